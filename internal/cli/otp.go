package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewOTPCmd создаёт команду ввода OTP-кода группы.
func NewOTPCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Provide OTP codes for device groups",
	}
	cmd.AddCommand(newOTPSubmitCmd(clientFn, outputFn))
	return cmd
}

func newOTPSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "submit DEPARTMENT:GROUP CODE",
		Short: "Submit a one-time code and resume tasks paused on the group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dept, group, ok := strings.Cut(args[0], ":")
			if !ok || dept == "" || group == "" {
				return fmt.Errorf("invalid group %q, expected DEPARTMENT:GROUP", args[0])
			}

			out := outputFn()
			resp, err := clientFn().SubmitOTP(SubmitOTPRequest{Department: dept, Group: group, Code: args[1]})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Code accepted for %s, valid %ds", args[0], resp.TTLSeconds))
			rows := make([][]string, len(resp.Resumed))
			for i, id := range resp.Resumed {
				rows[i] = []string{id}
			}
			out.Print([]string{"RESUMED_TASK"}, rows, resp)
			return nil
		},
	}
}
