package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/accounting/memory"
	"github.com/marcoshache/grain-canje-triangular/internal/auth"
	"github.com/marcoshache/grain-canje-triangular/internal/config"
	"github.com/marcoshache/grain-canje-triangular/internal/db"
	"github.com/marcoshache/grain-canje-triangular/internal/excel"
	httphandler "github.com/marcoshache/grain-canje-triangular/internal/http"
	"github.com/marcoshache/grain-canje-triangular/internal/http/middleware"
	"github.com/marcoshache/grain-canje-triangular/internal/logger"
	"github.com/marcoshache/grain-canje-triangular/internal/pdf"
	"github.com/marcoshache/grain-canje-triangular/internal/repository"
	"github.com/marcoshache/grain-canje-triangular/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	contractRepo := repository.NewContractRepository(database)
	liquidationRepo := repository.NewLiquidationRepository(database)

	ledger := newLedger(cfg.Canje)

	contractService := service.NewContractService(contractRepo, log)
	applicationService := service.NewApplicationService(contractRepo, ledger, cfg.Canje, log)
	liquidationService := service.NewLiquidationService(liquidationRepo, ledger, cfg.Canje, log)
	nettingService := service.NewNettingService(ledger, cfg.Canje, log)

	excelGenerator := excel.NewGenerator()
	pdfGenerator := pdf.NewGenerator()

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(contractService, applicationService, liquidationService, nettingService, excelGenerator, pdfGenerator, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Msg("starting canje service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

// newLedger seeds the in-process accounting collaborator with the
// configured chart references so the service can post against it out
// of the box.
func newLedger(cfg config.CanjeConfig) *memory.Ledger {
	ledger := memory.New(cfg.BaseCurrency)

	// The producer current account is a non-reconcilable current
	// account, not a receivable.
	if cfg.Account != "" {
		ledger.RegisterAccount(cfg.Account, accounting.AccountOther)
	}
	if cfg.ClearingAccount != "" {
		ledger.RegisterAccount(cfg.ClearingAccount, accounting.AccountOther)
	}
	if cfg.Journal != "" {
		ledger.RegisterJournal(cfg.Journal, cfg.Account, false)
	}
	if cfg.LiquidationJournal != "" {
		ledger.RegisterJournal(cfg.LiquidationJournal, cfg.ClearingAccount, false)
	}
	if cfg.NettingJournal != "" {
		ledger.RegisterJournal(cfg.NettingJournal, cfg.ClearingAccount, false)
	}
	if cfg.NettingPaymentJournal != "" {
		ledger.RegisterAccount("BANK", accounting.AccountOther)
		ledger.RegisterJournal(cfg.NettingPaymentJournal, "BANK", true)
	}
	if cfg.LPGTax != "" {
		ledger.RegisterTax(cfg.LPGTax, decimal.NewFromFloat(cfg.LPGTaxRate))
	}
	if cfg.LSGTax != "" {
		ledger.RegisterTax(cfg.LSGTax, decimal.NewFromFloat(cfg.LSGTaxRate))
	}
	return ledger
}
