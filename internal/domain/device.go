package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AuthType — способ получения пароля устройства.
type AuthType string

const (
	// AuthStatic — статический пароль группы.
	AuthStatic AuthType = "static"

	// AuthOTPSeed — OTP вычисляется из сохранённого seed (TOTP).
	AuthOTPSeed AuthType = "otp_seed"

	// AuthOTPManual — OTP вводит оператор.
	AuthOTPManual AuthType = "otp_manual"
)

// IsOTP возвращает true для OTP-способов аутентификации.
func (a AuthType) IsOTP() bool {
	return a == AuthOTPSeed || a == AuthOTPManual
}

// DeviceStatus — состояние устройства в инвентаре.
type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "active"
	DeviceInactive DeviceStatus = "inactive"
)

// GroupKey — ключ OTP-координатора: отдел + группа устройств.
type GroupKey struct {
	Department string `json:"department"`
	Group      string `json:"group"`
}

// String возвращает "department:group".
func (k GroupKey) String() string {
	return k.Department + ":" + k.Group
}

// Device — сетевое устройство.
type Device struct {
	ID         uuid.UUID    `json:"id"`
	Name       string       `json:"name"`
	Address    string       `json:"address"`
	Port       int          `json:"port"`
	Platform   string       `json:"platform"`
	AuthType   AuthType     `json:"auth_type"`
	Department string       `json:"department"`
	Group      string       `json:"group"`
	Status     DeviceStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// GroupKey возвращает ключ OTP-группы устройства.
func (d *Device) GroupKey() GroupKey {
	return GroupKey{Department: d.Department, Group: d.Group}
}

// HostName — имя устройства в результатах Runner'а.
func (d *Device) HostName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID.String()
}

// Endpoint возвращает host:port.
func (d *Device) Endpoint() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return d.Address + ":" + strconv.Itoa(port)
}

// CredentialRecord — учётные данные группы устройств.
// Secret используется для AuthStatic, OTPSeed — для AuthOTPSeed.
// Для AuthOTPManual пароль приходит от оператора через OTP-координатор.
type CredentialRecord struct {
	ID         uuid.UUID `json:"id"`
	Department string    `json:"department"`
	Group      string    `json:"group"`
	Username   string    `json:"username"`
	Secret     string    `json:"-"`
	OTPSeed    string    `json:"-"`
}

// Key возвращает ключ группы.
func (c *CredentialRecord) Key() GroupKey {
	return GroupKey{Department: c.Department, Group: c.Group}
}

// String не раскрывает секреты.
func (c *CredentialRecord) String() string {
	return fmt.Sprintf("credential(%s@%s)", c.Username, c.Key())
}
