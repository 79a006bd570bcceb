package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"serotonyl.ru/vpn-shop/internal/common"
	"serotonyl.ru/vpn-shop/internal/features/journal"
	"serotonyl.ru/vpn-shop/internal/features/provisioning"
	"serotonyl.ru/vpn-shop/internal/features/receipts"
)

// Engine — операции ядра, доступные из консоли.
type Engine interface {
	Reconcile(ctx context.Context) (*provisioning.Pass, error)
	ReconciliationReport(ctx context.Context) (*provisioning.Report, error)
	Repair(ctx context.Context, operationID string) (*journal.Operation, error)
	RebuildBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	PendingReceipts(ctx context.Context) ([]*receipts.Receipt, error)
}

// Opener открывает ядро. Второе значение закрывает всё открытое.
type Opener func(ctx context.Context) (Engine, func(), error)

func newRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "adminctl",
		Short:         "Обслуживание VPN-магазина",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withEngine открывает ядро на время одной команды.
	withEngine := func(run func(cmd *cobra.Command, args []string, e Engine) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, args, e)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "reconcile",
			Short: "Один проход сверки зависших операций",
			Args:  cobra.NoArgs,
			RunE: withEngine(func(cmd *cobra.Command, _ []string, e Engine) error {
				pass, err := e.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				printPass(cmd.OutOrStdout(), pass)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "report",
			Short: "Отчёт о расхождениях, ничего не меняет",
			Args:  cobra.NoArgs,
			RunE: withEngine(func(cmd *cobra.Command, _ []string, e Engine) error {
				rep, err := e.ReconciliationReport(cmd.Context())
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "repair <operation-id>",
			Short: "Довести одну pending-операцию до конца",
			Args:  cobra.ExactArgs(1),
			RunE: withEngine(func(cmd *cobra.Command, args []string, e Engine) error {
				op, err := e.Repair(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Операция %s (%s): %s\n", op.ID, op.Kind, op.State)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rebuild-balance <account-id>",
			Short: "Пересчитать баланс по журналу проводок",
			Args:  cobra.ExactArgs(1),
			RunE: withEngine(func(cmd *cobra.Command, args []string, e Engine) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("некорректный ID счёта %q", args[0])
				}
				balance, err := e.RebuildBalance(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Счёт %d: баланс %s\n", id, common.FormatMoney(balance))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "receipts",
			Short: "Чеки, ожидающие решения",
			Args:  cobra.NoArgs,
			RunE: withEngine(func(cmd *cobra.Command, _ []string, e Engine) error {
				list, err := e.PendingReceipts(cmd.Context())
				if err != nil {
					return err
				}
				printReceipts(cmd.OutOrStdout(), list)
				return nil
			}),
		},
	)
	return root
}

func printPass(w io.Writer, p *provisioning.Pass) {
	fmt.Fprintf(w, "Завершено: %d\nКомпенсировано: %d\nОтклонено: %d\nОтложено: %d\nУбрано с роутеров: %d\n",
		p.Completed, p.Compensated, p.Failed, p.Deferred, p.CleanedUp)
}

func printReport(w io.Writer, rep *provisioning.Report) {
	fmt.Fprintf(w, "Отчёт на %s\n", rep.GeneratedAt.Format(time.DateTime))
	if rep.LastPass.IsZero() {
		fmt.Fprintln(w, "Сверка ещё не запускалась")
	} else {
		fmt.Fprintf(w, "Последняя сверка: %s\n", rep.LastPass.Format(time.DateTime))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if len(rep.Drifts) > 0 {
		fmt.Fprintln(tw, "\nСЧЁТ\tБАЛАНС\tПО ПРОВОДКАМ")
		for _, d := range rep.Drifts {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", d.AccountID, common.FormatMoney(d.Cached), common.FormatMoney(d.Computed))
		}
	}
	if len(rep.ExpiryMismatches) > 0 {
		fmt.Fprintln(tw, "\nПОДПИСКА\tЛОГИН\tУ НАС\tНА РОУТЕРЕ")
		for _, m := range rep.ExpiryMismatches {
			remote := "нет аккаунта"
			if !m.Missing && m.RemoteExpiry != nil {
				remote = m.RemoteExpiry.Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.SubscriptionID, m.RemoteUsername, m.LocalExpiry.Format(time.DateTime), remote)
		}
	}
	if len(rep.StaleOperations) > 0 {
		fmt.Fprintln(tw, "\nОПЕРАЦИЯ\tТИП\tСЧЁТ\tСОЗДАНА")
		for _, op := range rep.StaleOperations {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", op.ID, op.Kind, op.AccountID, op.CreatedAt.Format(time.DateTime))
		}
	}
	if len(rep.Unchecked) > 0 {
		fmt.Fprintf(tw, "\nНе проверено (роутер недоступен): %v\n", rep.Unchecked)
	}
	if len(rep.Drifts)+len(rep.ExpiryMismatches)+len(rep.StaleOperations) == 0 {
		fmt.Fprintln(tw, "Расхождений нет")
	}
}

func printReceipts(w io.Writer, list []*receipts.Receipt) {
	if len(list) == 0 {
		fmt.Fprintln(w, "Чеков на проверке нет")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "ID\tСЧЁТ\tСУММА\tОТПРАВЛЕН")
	for _, r := range list {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", r.ID, r.AccountID, common.FormatMoney(r.ClaimedAmount), r.SubmittedAt.Format(time.DateTime))
	}
}
