package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polymaker/internal/domain"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// TokenReport es el desglose por token del resumen de sesión.
type TokenReport struct {
	TokenID   string
	Outcome   string
	Shares    float64
	BuyFills  int
	SellFills int
	AvgBuy    float64 // precio medio de compra (0 si no hubo)
	AvgSell   float64
}

// SessionReport agrupa todo lo que se imprime al apagar un maker.
type SessionReport struct {
	Market       domain.Market
	StartedAt    time.Time
	EndedAt      time.Time
	OrdersPlaced int
	Fills        int
	Tokens       []TokenReport
	RealizedPnL  float64
	Collateral   float64 // balance USDC al cierre, si se conoce
}

// Console imprime resúmenes de sesión y estado por stdout.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintSessionSummary imprime el resumen final de una sesión de maker.
func (c *Console) PrintSessionSummary(r SessionReport) {
	dur := r.EndedAt.Sub(r.StartedAt).Round(time.Second)

	fmt.Fprintf(c.out, "\n=== SESSION SUMMARY — %s ===\n", marketLabel(r.Market))
	fmt.Fprintf(c.out, "  %s → %s (%s)\n",
		r.StartedAt.Format("15:04:05"), r.EndedAt.Format("15:04:05"), dur)
	fmt.Fprintf(c.out, "  Orders placed: %d | Fills: %d\n", r.OrdersPlaced, r.Fills)

	if len(r.Tokens) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Outcome", "Shares", "Buys", "Sells", "AvgBuy", "AvgSell")
		for _, tk := range r.Tokens {
			table.Append(
				tk.Outcome,
				fmt.Sprintf("%.2f", tk.Shares),
				fmt.Sprintf("%d", tk.BuyFills),
				fmt.Sprintf("%d", tk.SellFills),
				priceLabel(tk.AvgBuy),
				priceLabel(tk.AvgSell),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "  Realized PnL: $%.4f\n", r.RealizedPnL)
	if r.Collateral > 0 {
		fmt.Fprintf(c.out, "  Collateral:   $%.2f\n", r.Collateral)
	}
	fmt.Fprintln(c.out)
}

// PrintStatus imprime órdenes abiertas y balance — lo usa el tool -status.
func (c *Console) PrintStatus(orders []ports.OpenOrder, ba ports.BalanceAllowance) {
	fmt.Fprintf(c.out, "\n[%s] %d open orders | balance $%.2f | allowance $%.2f\n",
		time.Now().Format("15:04:05"), len(orders), ba.Balance, ba.Allowance)

	if len(orders) == 0 {
		fmt.Fprintln(c.out)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Order", "Token", "Side", "Price", "Size", "Filled", "Age")
	now := time.Now()
	for _, o := range orders {
		age := "-"
		if o.CreatedAt > 0 {
			age = now.Sub(time.Unix(o.CreatedAt, 0)).Round(time.Second).String()
		}
		table.Append(
			shortID(o.ExchangeOrderID),
			shortID(o.TokenID),
			string(o.Side),
			fmt.Sprintf("%.3f", o.Price),
			fmt.Sprintf("%.2f", o.Size),
			fmt.Sprintf("%.2f", o.FilledSize),
			age,
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// --- helpers ---

func marketLabel(m domain.Market) string {
	return domain.TruncateQuestion(m.Question, m.ConditionID, 48)
}

func priceLabel(p float64) string {
	if p <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f", p)
}

func shortID(s string) string {
	if len(s) > 12 {
		return s[:10] + ".."
	}
	return s
}
