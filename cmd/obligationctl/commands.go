package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/segyhp/settlement-engine/internal/app"
	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/service"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/utils"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List obligations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, _ domain.Party) error {
				items, err := node.Obligations.ListObligations(ctx)
				if err != nil {
					return err
				}
				return renderObligations(os.Stdout, items, time.Now(), jsonOutput)
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an obligation and its payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, _ domain.Party) error {
				v, err := node.Obligations.GetObligation(ctx, args[0])
				if err != nil {
					return err
				}
				return renderObligation(os.Stdout, *v, time.Now(), jsonOutput)
			})
		},
	}
}

func createCmd() *cobra.Command {
	var amount, token, role, counterparty, counterpartyName, due string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an obligation with a counterparty",
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := utils.ParsePositiveDecimal(amount)
			if err != nil {
				return err
			}
			dueBy, err := utils.ParseDueDate(due, time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				v, err := node.Obligations.CreateObligation(ctx, me, domain.CreateObligationRequest{
					Amount:       quantity,
					Token:        strings.ToUpper(token),
					Role:         domain.Role(role),
					Counterparty: domain.PartyRequest{Key: counterparty, Name: counterpartyName},
					DueBy:        dueBy,
					Anonymous:    anonymous,
				})
				if err != nil {
					return err
				}
				return renderObligation(os.Stdout, *v, time.Now(), jsonOutput)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "face amount")
	cmd.Flags().StringVar(&token, "token", "", "currency or token")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleObligor), "this node's role: obligor or obligee")
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "counterparty key")
	cmd.Flags().StringVar(&counterpartyName, "counterparty-name", "", "counterparty name (defaults to the key)")
	cmd.Flags().StringVar(&due, "due", "", "due date: RFC 3339, YYYY-MM-DD or <n>d")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "use pseudonymous party keys")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("counterparty")
	return cmd
}

func setMethodCmd() *cobra.Command {
	var railKind, account, oracleKey, oracleName string
	var tokens []string
	var onLedger bool
	cmd := &cobra.Command{
		Use:   "set-method <id>",
		Short: "Set how an obligation is settled (obligee only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var method domain.SettlementMethod
			if onLedger {
				method = domain.OnLedgerSettlement(tokens...)
			} else {
				var oracleParty *domain.Party
				if oracleKey != "" {
					name := oracleName
					if name == "" {
						name = oracleKey
					}
					oracleParty = &domain.Party{Key: oracleKey, Name: name}
				}
				method = domain.OffLedgerPayment(domain.RailKind(railKind), account, oracleParty)
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				v, err := node.Obligations.UpdateSettlementMethod(ctx, me, args[0], method)
				if err != nil {
					return err
				}
				return renderObligation(os.Stdout, *v, time.Now(), jsonOutput)
			})
		},
	}
	cmd.Flags().StringVar(&railKind, "rail", string(domain.RailXRP), "payment rail: xrp, swift or manual")
	cmd.Flags().StringVar(&account, "account", "", "account to pay (XRP address, IBAN or free text)")
	cmd.Flags().StringVar(&oracleKey, "oracle", "", "settlement oracle public key")
	cmd.Flags().StringVar(&oracleName, "oracle-name", "", "settlement oracle name")
	cmd.Flags().BoolVar(&onLedger, "on-ledger", false, "settle with on-ledger tokens instead")
	cmd.Flags().StringSliceVar(&tokens, "token", nil, "acceptable on-ledger token (repeatable)")
	return cmd
}

func settleCmd() *cobra.Command {
	var amount, reference string
	cmd := &cobra.Command{
		Use:   "settle <id>",
		Short: "Pay an obligation over its settlement rail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := utils.ParsePositiveDecimal(amount)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				receipt, err := node.Orchestrator.Settle(ctx, me, args[0], quantity, service.SettleOptions{ManualReference: reference})
				if receipt != nil {
					if renderErr := renderReceipt(os.Stdout, *receipt, jsonOutput); renderErr != nil {
						return renderErr
					}
				}
				return explain(err)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to pay")
	cmd.Flags().StringVar(&reference, "reference", "", "reference of a manual payment")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func novateCmd() *cobra.Command {
	var kind, amount, token, due, oldParty, newParty, newPartyName string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "novate <id>",
		Short: "Change the terms of an obligation",
		Long: `Kinds:
  update_face_amount_quantity  --amount
  update_face_amount_token     --amount --token
  update_due_by                --due or --clear-due
  update_party                 --old-party --new-party`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.NovateRequest{Kind: domain.NovationKind(kind), Token: strings.ToUpper(token)}
			if amount != "" {
				quantity, err := utils.ParsePositiveDecimal(amount)
				if err != nil {
					return err
				}
				req.Amount = &quantity
			}
			if req.Kind == domain.NovateDueBy && due == "" && !clearDue {
				return fmt.Errorf("pass --due or --clear-due")
			}
			if !clearDue {
				dueBy, err := utils.ParseDueDate(due, time.Now())
				if err != nil {
					return err
				}
				req.DueBy = dueBy
			}
			if oldParty != "" {
				req.OldParty = &domain.PartyRequest{Key: oldParty}
			}
			if newParty != "" {
				req.NewParty = &domain.PartyRequest{Key: newParty, Name: newPartyName}
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				current, err := node.Obligations.GetObligation(ctx, args[0])
				if err != nil {
					return err
				}
				command := req.Command(current.Obligation.FaceAmount.Token)
				if command.OldParty != nil {
					// the old party is named by key; take its identity from the obligation
					for _, p := range current.Obligation.Participants() {
						if p.Is(*command.OldParty) {
							*command.OldParty = p
						}
					}
				}
				v, err := node.Obligations.Novate(ctx, me, args[0], command)
				if err != nil {
					return err
				}
				return renderObligation(os.Stdout, *v, time.Now(), jsonOutput)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "novation kind")
	cmd.Flags().StringVar(&amount, "amount", "", "new face amount")
	cmd.Flags().StringVar(&token, "token", "", "new token")
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().StringVar(&oldParty, "old-party", "", "key of the party being replaced")
	cmd.Flags().StringVar(&newParty, "new-party", "", "key of the replacing party")
	cmd.Flags().StringVar(&newPartyName, "new-party-name", "", "name of the replacing party")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an obligation with nothing settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				if err := node.Obligations.Cancel(ctx, me, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "cancelled %s\n", args[0])
				return nil
			})
		},
	}
}

func attachReferenceCmd() *cobra.Command {
	var reference, amount, railAmount string
	cmd := &cobra.Command{
		Use:   "attach-reference <id>",
		Short: "Record a rail payment that was made but never recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := utils.ParsePositiveDecimal(amount)
			if err != nil {
				return err
			}
			attached := domain.AttachPaymentRequest{Reference: reference, Amount: quantity}
			if railAmount != "" {
				delivered, err := utils.ParsePositiveDecimal(railAmount)
				if err != nil {
					return fmt.Errorf("--rail-amount: %w", err)
				}
				attached.RailAmount = &delivered
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, me domain.Party) error {
				v, err := node.Obligations.AttachPaymentReference(ctx, me, args[0], attached)
				if err != nil {
					return err
				}
				return renderObligation(os.Stdout, *v, time.Now(), jsonOutput)
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "rail payment reference")
	cmd.Flags().StringVar(&amount, "amount", "", "amount the payment settled")
	cmd.Flags().StringVar(&railAmount, "rail-amount", "", "amount delivered in rail units, e.g. XRP")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func resumeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Ask the oracle again about payments awaiting verification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass an obligation id or --all")
			}
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, _ domain.Party) error {
				if all {
					done, err := node.Orchestrator.ResumeAll(ctx)
					fmt.Fprintf(os.Stdout, "%d verification(s) concluded\n", done)
					return err
				}
				receipt, err := node.Orchestrator.ResumeVerification(ctx, args[0])
				if receipt != nil {
					if renderErr := renderReceipt(os.Stdout, *receipt, jsonOutput); renderErr != nil {
						return renderErr
					}
				}
				return explain(err)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "resume every payment in flight")
	return cmd
}

func defaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "List obligations past their due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, node *app.App, _ domain.Party) error {
				items, err := node.Obligations.ListInDefault(ctx)
				if err != nil {
					return err
				}
				return renderObligations(os.Stdout, items, time.Now(), jsonOutput)
			})
		},
	}
}

// explain adds the operator follow-up to errors that need one.
func explain(err error) error {
	if err == nil {
		return nil
	}
	if customError.IsReconciliation(err) {
		return fmt.Errorf("%w\nreconcile with: obligationctl attach-reference <id> --reference %s --amount <amount>",
			err, customError.ReferenceOf(err))
	}
	if customError.CategoryOf(err) == customError.CategoryUnavailable {
		return fmt.Errorf("%w\nretry later with: obligationctl resume <id>", err)
	}
	return err
}
