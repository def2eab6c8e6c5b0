package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bill_split_automation/internal/app"
	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/notify"
	"bill_split_automation/internal/infra/config"
	idb "bill_split_automation/internal/infra/database"
	"bill_split_automation/internal/infra/gmail"
	"bill_split_automation/internal/infra/logger"
	"bill_split_automation/internal/infra/mailer"
	"bill_split_automation/internal/infra/metrics"
	"bill_split_automation/internal/infra/scheduler"
	"bill_split_automation/internal/infra/telegram"
	"bill_split_automation/internal/infra/web"
	"bill_split_automation/internal/provider"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Environment)
	mainLog := logger.Component("main")
	mainLog.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"test_mode":   cfg.TestMode,
		"provider":    cfg.ProviderName,
	}).Info("bill split automation starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLog.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if err := idb.RunMigrations(db); err != nil {
		mainLog.WithError(err).Fatal("migrations failed")
	}
	mainLog.Info("database ready")

	billRepo := idb.NewPostgresBillRepository(db)
	m := metrics.New()

	statements := provider.NewPGEStatements(cfg.ProviderSender)
	confirmations := provider.NewVenmoConfirmations(cfg.PaymentService, cfg.PaymentSender)

	composer := compose.New(compose.Config{
		ServiceName:    cfg.PaymentService,
		Recipient:      cfg.PaymentRecipient,
		ProviderName:   cfg.ProviderName,
		PartyAName:     cfg.PartyAName,
		PartyBName:     cfg.PartyBName,
		IncludeAppLink: cfg.IncludeAppLink,
	})

	mailbox := gmail.NewClient(gmail.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
	}, logger.Component("gmail"))

	smtpCfg := mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.GmailUser,
		Password: cfg.GmailAppPassword,
	}
	var senders []notify.Sender
	var smsSender, emailSender notify.Sender
	if cfg.SMSEnabled && cfg.SMSGateway != "" {
		s := mailer.NewSMSSender(smtpCfg, cfg.SMSGateway)
		smsSender = s
		senders = append(senders, s)
	}
	if cfg.EmailEnabled && cfg.PartyAEmail != "" {
		s := mailer.NewEmailSender(smtpCfg, cfg.PartyAEmail)
		emailSender = s
		senders = append(senders, s)
	}

	reconciler := app.NewReconciler(billRepo, cfg.AmountTolerance, cfg.MatchWindowDays,
		logger.Component("reconciler"))

	var bot *telebot.Bot
	var alerts notify.Sender
	if cfg.TelegramToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := logger.Component("telegram")
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.WithError(err).Error("bot handler failed")
			},
		})
		if err != nil {
			mainLog.WithError(err).Fatal("telegram bot init failed")
		}
		alerts = telegram.NewAlertSender(telegram.NewTelebotAdapter(bot), cfg.OperatorTelegramID)
	}

	runTimeout := time.Duration(cfg.RunTimeoutMinutes) * time.Minute
	runner := app.NewRunService(
		mailbox, statements, confirmations, reconciler, billRepo, composer,
		senders, alerts, m,
		app.RunConfig{
			SplitRatioA:         cfg.SplitRatioA,
			LookbackDays:        cfg.LookbackDays,
			PaymentLookbackDays: cfg.PaymentLookbackDays,
			SearchLimit:         cfg.SearchLimit,
		},
		logger.Component("run_service"),
	)
	adminService := app.NewAdminService(billRepo, composer, smsSender, emailSender,
		logger.Component("admin_service"))

	if bot != nil {
		telegram.RegisterOperatorHandlers(ctx, bot, runner, adminService,
			cfg.OperatorTelegramID, runTimeout, logger.Component("telegram"))
		go bot.Start()
		defer bot.Stop()
		mainLog.WithField("operator_id", cfg.OperatorTelegramID).Info("operator bot started")
	}

	sched := scheduler.NewRunScheduler(runner, logger.Component("scheduler"),
		cfg.CronSpecScan, cfg.CronSpecPaymentCheck, runTimeout, cfg.TestMode)
	if err := sched.Start(); err != nil {
		mainLog.WithError(err).Fatal("scheduler start failed")
	}
	defer sched.Stop()

	webServer := web.NewServer(runner, adminService, composer, db, m.Handler(), web.Config{
		TestMode:         cfg.TestMode,
		ProviderName:     cfg.ProviderName,
		ProviderSender:   cfg.ProviderSender,
		PaymentService:   cfg.PaymentService,
		PaymentRecipient: cfg.PaymentRecipient,
		SplitRatioA:      cfg.SplitRatioA,
		GmailUser:        cfg.GmailUser,
		SMSEnabled:       cfg.SMSEnabled,
		SMSGateway:       cfg.SMSGateway,
		EmailEnabled:     cfg.EmailEnabled,
		PartyAEmail:      cfg.PartyAEmail,
		PartyAName:       cfg.PartyAName,
		PartyBName:       cfg.PartyBName,
		CronSpecScan:     cfg.CronSpecScan,
		CronSpecPayments: cfg.CronSpecPaymentCheck,
	}, runTimeout, logger.Component("web"))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           webServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLog.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	mainLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		mainLog.WithError(err).Warn("http shutdown did not finish cleanly")
	}
	mainLog.Info("shut down gracefully")
}
