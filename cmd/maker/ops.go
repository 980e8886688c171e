package main

// ops.go — subcomandos operativos: -cancel-all y -status. Ninguno arranca el
// engine; son herramientas de emergencia/inspección sobre la misma cuenta.

import (
	"context"
	"log/slog"
	"os"

	"github.com/alejandrodnm/polymaker/internal/adapters/notify"
	"github.com/alejandrodnm/polymaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/polymaker/internal/ports"
)

// runCancelAll cancela todas las órdenes abiertas de la cuenta y termina.
func runCancelAll(ctx context.Context, trading *polymarket.TradingClient) {
	slog.Info("cancelling every open order")
	if err := trading.CancelAll(ctx); err != nil {
		slog.Error("cancel-all failed", "err", err)
		os.Exit(1)
	}
	slog.Info("all open orders cancelled")
}

// runStatus imprime las órdenes abiertas por mercado y el balance/allowance.
func runStatus(ctx context.Context, auth *polymarket.AuthClient,
	trading *polymarket.TradingClient, slugs []string) {

	markets, err := auth.ActiveMarkets(ctx, slugs)
	if err != nil {
		slog.Error("failed to load markets", "err", err)
		os.Exit(1)
	}

	var orders []ports.OpenOrder
	for _, m := range markets {
		open, err := trading.OpenOrders(ctx, m.ConditionID)
		if err != nil {
			slog.Error("failed to list open orders", "market", m.Slug, "err", err)
			os.Exit(1)
		}
		orders = append(orders, open...)
	}

	ba, err := trading.BalanceAllowance(ctx)
	if err != nil {
		slog.Warn("failed to read balance/allowance", "err", err)
	}

	notify.NewConsole().PrintStatus(orders, ba)
}
