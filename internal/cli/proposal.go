package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewProposalCmd создаёт группу команд для управления proposals.
func NewProposalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Review proposed actions",
	}

	cmd.AddCommand(
		newProposalListCmd(clientFn, outputFn),
		newProposalShowCmd(clientFn, outputFn),
		newProposalApproveCmd(clientFn, outputFn),
		newProposalRejectCmd(clientFn, outputFn),
	)

	return cmd
}

func newProposalListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proposals, err := client.ListProposals(status)
			if err != nil {
				return err
			}

			headers := []string{"ID", "REQUEST_ID", "ACTION", "STATUS", "DESCRIPTION"}
			rows := make([][]string, len(proposals))
			for i, p := range proposals {
				rows[i] = []string{p.ID, p.RequestID, p.ActionType, p.Status, p.Description}
			}

			out.Print(headers, rows, proposals)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PROPOSED, APPROVED, REJECTED, EXECUTING, EXECUTED, FAILED)")

	return cmd
}

func newProposalShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show proposal details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proposal, err := client.GetProposal(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "REQUEST_ID", "ACTION", "STATUS", "REVIEWED_BY", "LOGS"},
				[][]string{{proposal.ID, proposal.RequestID, proposal.ActionType, proposal.Status, proposal.ReviewedBy, proposal.ExecutionLogs}},
				proposal,
			)
			return nil
		},
	}
}

func newProposalApproveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reviewer string
	var comment string

	cmd := &cobra.Command{
		Use:   "approve ID",
		Short: "Approve a proposed action for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proposal, err := client.ApproveProposal(args[0], ReviewProposalRequest{
				ReviewedBy: reviewer,
				Comment:    comment,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Proposal approved: %s", proposal.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Who approves the action (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "Review comment")
	cmd.MarkFlagRequired("reviewer")

	return cmd
}

func newProposalRejectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reviewer string
	var comment string

	cmd := &cobra.Command{
		Use:   "reject ID",
		Short: "Reject a proposed action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			proposal, err := client.RejectProposal(args[0], ReviewProposalRequest{
				ReviewedBy: reviewer,
				Comment:    comment,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Proposal rejected: %s", proposal.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Who rejects the action (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "Review comment")
	cmd.MarkFlagRequired("reviewer")

	return cmd
}
