package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// Task выводит задачу: сводку и итоги по устройствам.
func (o *Output) Task(t *TaskResponse) {
	if o.jsonMode {
		o.JSON(t)
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", t.Type)
	fmt.Fprintf(tw, "Status:\t%s (%d%%)\n", t.Status, t.Progress)
	fmt.Fprintf(tw, "Approval:\t%s (%d/%d)\n", t.ApprovalStatus, t.CurrentLevel, t.ApprovalLevels)
	fmt.Fprintf(tw, "Operator:\t%s\n", t.Operator)
	if t.SourceTaskID != "" {
		fmt.Fprintf(tw, "Source:\t%s\n", t.SourceTaskID)
	}
	fmt.Fprintf(tw, "Devices:\t%d (ok %d, failed %d)\n", len(t.DeviceIDs), t.SuccessCount, t.FailureCount)
	if t.Pause != nil {
		for _, g := range t.Pause.Groups {
			fmt.Fprintf(tw, "Waiting OTP:\t%s:%s (%d devices, stage %s)\n", g.Key.Department, g.Key.Group, len(g.DeviceIDs), t.Pause.Stage)
		}
	}
	if t.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", t.Error)
	}
	tw.Flush()

	if len(t.Devices) == 0 {
		return
	}
	ids := make([]string, 0, len(t.Devices))
	for id := range t.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, len(ids))
	for i, id := range ids {
		d := t.Devices[id]
		rows[i] = []string{id, d.Status, fmt.Sprint(d.Attempts), d.Message}
	}
	fmt.Fprintln(o.w)
	o.Table([]string{"DEVICE", "STATUS", "ATTEMPTS", "MESSAGE"}, rows)
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}
