package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
)

var (
	// ErrNoCredential — для группы устройства нет учётных данных.
	ErrNoCredential = errors.New("no credential for device group")

	// ErrCodeNotCached — для группы с ручным OTP нет кода в кэше.
	ErrCodeNotCached = errors.New("otp code is not cached")
)

// Credential — учётные данные на одну попытку подключения. Не сохраняется.
type Credential struct {
	Username string
	Secret   string
}

// String не раскрывает пароль.
func (c Credential) String() string {
	return "credential(" + c.Username + ")"
}

// Store — источник учётных записей групп.
type Store interface {
	GetByGroup(ctx context.Context, key domain.GroupKey) (*domain.CredentialRecord, error)
}

// Codes — источник OTP-кодов, вводимых оператором.
type Codes interface {
	GetOrRequire(ctx context.Context, key domain.GroupKey, taskID uuid.UUID, pendingIDs []uuid.UUID) otp.Result
	Peek(ctx context.Context, key domain.GroupKey) (string, bool)
}

// Resolver получает учётные данные для устройства на каждую попытку.
type Resolver struct {
	store  Store
	codes  Codes
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver создаёт Resolver. now == nil — time.Now.
func NewResolver(store Store, codes Codes, now func() time.Time, logger *slog.Logger) *Resolver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, codes: codes, now: now, logger: logger}
}

// Resolve возвращает учётные данные устройства.
//
// Для AuthOTPManual без кода в кэше возвращает *otp.RequiredError.
func (r *Resolver) Resolve(ctx context.Context, taskID uuid.UUID, d *domain.Device) (Credential, error) {
	rec, err := r.record(ctx, d.GroupKey())
	if err != nil {
		return Credential{}, err
	}
	return r.resolve(ctx, taskID, d, rec)
}

// Cached разрешает учётные данные без ожидания оператора: для ручного OTP
// берётся только уже закэшированный код, иначе ErrCodeNotCached.
func (r *Resolver) Cached(ctx context.Context, d *domain.Device) (Credential, error) {
	rec, err := r.record(ctx, d.GroupKey())
	if err != nil {
		return Credential{}, err
	}
	if d.AuthType != domain.AuthOTPManual {
		return r.resolve(ctx, uuid.Nil, d, rec)
	}
	code, ok := r.codes.Peek(ctx, d.GroupKey())
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrCodeNotCached, d.GroupKey())
	}
	return Credential{Username: rec.Username, Secret: code}, nil
}

// Resolved — итог разрешения учётных данных для набора устройств.
type Resolved struct {
	Creds  map[uuid.UUID]Credential
	Failed map[uuid.UUID]error
}

// ResolveAll разрешает учётные данные для всех устройств.
//
// Устройства без учётных данных попадают в Failed. Если хотя бы одной
// группе нужен OTP, возвращается объединённый *otp.RequiredError вместе
// с уже разрешёнными данными.
func (r *Resolver) ResolveAll(ctx context.Context, taskID uuid.UUID, devices []domain.Device) (Resolved, error) {
	out := Resolved{
		Creds:  make(map[uuid.UUID]Credential, len(devices)),
		Failed: make(map[uuid.UUID]error),
	}

	// Одна запись и один запрос к координатору на группу.
	records := make(map[domain.GroupKey]*domain.CredentialRecord)
	manual := make(map[domain.GroupKey][]uuid.UUID)
	var groupOrder []domain.GroupKey

	for i := range devices {
		d := &devices[i]
		key := d.GroupKey()
		rec, ok := records[key]
		if !ok {
			var err error
			rec, err = r.record(ctx, key)
			if err != nil {
				if errors.Is(err, ErrNoCredential) {
					out.Failed[d.ID] = err
					continue
				}
				return out, err
			}
			records[key] = rec
		}

		if d.AuthType == domain.AuthOTPManual {
			if _, seen := manual[key]; !seen {
				groupOrder = append(groupOrder, key)
			}
			manual[key] = append(manual[key], d.ID)
			continue
		}

		cred, err := r.resolve(ctx, taskID, d, rec)
		if err != nil {
			out.Failed[d.ID] = err
			continue
		}
		out.Creds[d.ID] = cred
	}

	var required *otp.RequiredError
	for _, key := range groupOrder {
		ids := manual[key]
		res := r.codes.GetOrRequire(ctx, key, taskID, ids)
		if res.State == otp.StateReady {
			for _, id := range ids {
				out.Creds[id] = Credential{Username: records[key].Username, Secret: res.Code}
			}
			continue
		}
		if required == nil {
			required = &otp.RequiredError{}
		}
		required.Merge(otp.NewRequiredError(key, res.State == otp.StateTimeout, ids...))
	}

	if required != nil {
		return out, required
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, taskID uuid.UUID, d *domain.Device, rec *domain.CredentialRecord) (Credential, error) {
	switch d.AuthType {
	case domain.AuthOTPSeed:
		code, err := otp.GenerateCode(rec.OTPSeed, r.now())
		if err != nil {
			return Credential{}, fmt.Errorf("device %s: %w", d.HostName(), err)
		}
		return Credential{Username: rec.Username, Secret: code}, nil

	case domain.AuthOTPManual:
		res := r.codes.GetOrRequire(ctx, d.GroupKey(), taskID, []uuid.UUID{d.ID})
		if res.State != otp.StateReady {
			return Credential{}, otp.NewRequiredError(d.GroupKey(), res.State == otp.StateTimeout, d.ID)
		}
		return Credential{Username: rec.Username, Secret: res.Code}, nil

	default:
		return Credential{Username: rec.Username, Secret: rec.Secret}, nil
	}
}

func (r *Resolver) record(ctx context.Context, key domain.GroupKey) (*domain.CredentialRecord, error) {
	rec, err := r.store.GetByGroup(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCredential, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", key, err)
	}
	return rec, nil
}
