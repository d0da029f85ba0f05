package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRequestCmd создаёт группу команд для управления requests.
func NewRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Manage analysis requests",
	}

	cmd.AddCommand(
		newRequestListCmd(clientFn, outputFn),
		newRequestSubmitCmd(clientFn, outputFn),
		newRequestShowCmd(clientFn, outputFn),
		newRequestCancelCmd(clientFn, outputFn),
		newRequestTasksCmd(clientFn, outputFn),
		newRequestProposalsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRequestListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			requests, err := client.ListRequests(ListRequestsOpts{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "KIND", "STATUS", "SUMMARY", "CREATED"}
			rows := make([][]string, len(requests))
			for i, r := range requests {
				rows[i] = []string{r.ID, r.Kind, r.Status, r.ResultSummary, r.CreatedAt}
			}

			out.Print(headers, rows, requests)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRequestSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var params []string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "submit KIND",
		Short: "Submit a new analysis request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitRequestRequest{
				Kind:           args[0],
				IdempotencyKey: idempotencyKey,
			}

			if len(params) > 0 {
				req.Params = make(map[string]any)
				for _, kv := range params {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
					}
					req.Params[parts[0]] = parts[1]
				}
			}

			request, err := client.SubmitRequest(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request submitted: %s", request.ID))
			out.Print(
				[]string{"ID", "KIND", "STATUS", "CREATED"},
				[][]string{{request.ID, request.Kind, request.Status, request.CreatedAt}},
				request,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&params, "param", nil, "Request parameters as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key (duplicate submits return the same request)")

	return cmd
}

func newRequestShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show request details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			request, err := client.GetRequest(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "KIND", "STATUS", "SUMMARY", "ERROR", "CREATED"},
				[][]string{{request.ID, request.Kind, request.Status, request.ResultSummary, request.Error, request.CreatedAt}},
				request,
			)
			return nil
		},
	}
}

func newRequestCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a request in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			request, err := client.CancelRequest(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request cancelled: %s", request.ID))
			return nil
		},
	}
}

func newRequestTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks REQUEST_ID",
		Short: "List tasks in a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "DEPARTMENT", "SEQ", "STATUS", "RETRIES", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.Department, strconv.Itoa(t.Sequence), t.Status, strconv.Itoa(t.RetryCount), t.Error}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newRequestProposalsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "proposals REQUEST_ID",
		Short: "List proposed actions of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proposals, err := client.ListRequestProposals(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "ACTION", "STATUS", "DESCRIPTION"}
			rows := make([][]string, len(proposals))
			for i, p := range proposals {
				rows[i] = []string{p.ID, p.ActionType, p.Status, p.Description}
			}

			out.Print(headers, rows, proposals)
			return nil
		},
	}
}
