// Command botbsl runs the BSL WhatsApp certificate bot: messaging transport,
// conversation pipeline, async image queue, follow-up scheduler and the
// admin API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dtalero78/bot-bsl-sub000/internal/api"
	"github.com/dtalero78/bot-bsl-sub000/internal/bot"
	"github.com/dtalero78/bot-bsl-sub000/internal/genai"
	"github.com/dtalero78/bot-bsl-sub000/internal/messaging"
	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/patients"
	"github.com/dtalero78/bot-bsl-sub000/internal/pdf"
	"github.com/dtalero78/bot-bsl-sub000/internal/queue"
	"github.com/dtalero78/bot-bsl-sub000/internal/scheduler"
	"github.com/dtalero78/bot-bsl-sub000/internal/store"
	"github.com/dtalero78/bot-bsl-sub000/internal/twiliowhatsapp"
	"github.com/dtalero78/bot-bsl-sub000/internal/util"
	"github.com/dtalero78/bot-bsl-sub000/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/botbsl"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "botbsl.db"
	// DefaultFollowupCron nudges stalled payment conversations hourly
	DefaultFollowupCron = "0 * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil && err != context.Canceled {
		slog.Error("botbsl failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("botbsl exited")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsAppDSN    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	BotDriver      string
	Messaging      string
	SchedulingLink string
	FlowFile       string
	FollowupCron   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	whatsappDSN    *string
	openaiKey      *string
	apiAddr        *string
	botDriver      *string
	messaging      *string
	schedulingLink *string
	flowFile       *string
	followupCron   *string
}

// initializeLogger sets up structured logging.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a
// .env file when present.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("BOTBSL_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		BotDriver:      os.Getenv("BOT_DRIVER"),
		Messaging:      os.Getenv("MESSAGING_DRIVER"),
		SchedulingLink: os.Getenv("SCHEDULING_LINK"),
		FlowFile:       os.Getenv("FLOW_FILE"),
		FollowupCron:   os.Getenv("FOLLOWUP_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}
	if config.BotDriver == "" {
		config.BotDriver = string(bot.DriverPhase)
	}
	if config.Messaging == "" {
		config.Messaging = "whatsapp"
	}
	if config.FollowupCron == "" {
		config.FollowupCron = DefaultFollowupCron
	}

	slog.Debug("environment loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"BOTBSL_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"BOT_DRIVER", config.BotDriver,
		"MESSAGING_DRIVER", config.Messaging)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for bot data (overrides $BOTBSL_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		whatsappDSN:    flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "admin API address (overrides $API_ADDR)"),
		botDriver:      flag.String("driver", config.BotDriver, "reply driver: phase or graph (overrides $BOT_DRIVER)"),
		messaging:      flag.String("messaging", config.Messaging, "messaging transport: whatsapp or twilio (overrides $MESSAGING_DRIVER)"),
		schedulingLink: flag.String("scheduling-link", config.SchedulingLink, "appointment scheduling URL (overrides $SCHEDULING_LINK)"),
		flowFile:       flag.String("flow-file", config.FlowFile, "JSON flow definition for the graph driver (overrides $FLOW_FILE)"),
		followupCron:   flag.String("followup-cron", config.FollowupCron, "cron expression for payment follow-ups (overrides $FOLLOWUP_CRON)"),
	}
	flag.Parse()
	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// run wires every module together and blocks until the context is cancelled.
func run(ctx context.Context, flags Flags) error {
	st, err := store.NewStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, twilioSvc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	defer svc.Stop()

	var ai genai.ClientInterface
	if *flags.openaiKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return err
		}
		ai = client
	} else {
		slog.Warn("run: no OpenAI key configured, AI replies disabled")
	}

	patientCli, renderCli := buildBackendClients()

	qm := queue.NewManager(svc)
	qm.Configure(bot.ImageQueueName, queue.Config{
		MaxConcurrency:  util.ParseIntEnv("QUEUE_MAX_CONCURRENCY", 2),
		ProcessingDelay: time.Duration(util.ParseIntEnv("QUEUE_PROCESSING_DELAY_MS", 0)) * time.Millisecond,
		RetryAttempts:   util.ParseIntEnv("QUEUE_RETRY_ATTEMPTS", 3),
	})

	botOpts, err := buildBotOptions(ctx, flags, st, ai, patientCli, renderCli, qm)
	if err != nil {
		return err
	}
	b, err := bot.NewBot(svc, st, botOpts...)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.followupCron, func() {
		if err := b.NudgeStalled(ctx, 48*time.Hour); err != nil {
			slog.Error("run: follow-up job failed", "error", err)
		}
	}); err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithQueue(qm)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilioSvc.WebhookHandler))
	}
	server := api.NewServer(st, svc, apiOpts...)

	go qm.Run(ctx)
	go func() {
		if err := server.Run(ctx); err != nil {
			slog.Error("run: api server stopped", "error", err)
		}
	}()

	slog.Info("botbsl running", "driver", *flags.botDriver, "messaging", *flags.messaging)
	return b.Run(ctx)
}

// buildMessagingService constructs the configured transport. The Twilio
// service is returned separately so its webhook can be mounted on the API.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	if strings.EqualFold(*flags.messaging, "twilio") {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// buildGenAIOptions constructs GenAI configuration options.
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		opts = append(opts, genai.WithModel(model))
	}
	return opts
}

// buildBackendClients constructs the patient and PDF clients when their
// endpoints are configured; the bot degrades gracefully without them.
func buildBackendClients() (*patients.Client, *pdf.Client) {
	var patientCli *patients.Client
	if os.Getenv("PATIENTS_BASE_URL") != "" {
		cli, err := patients.NewClient()
		if err != nil {
			slog.Warn("run: patients client unavailable", "error", err)
		} else {
			patientCli = cli
		}
	}
	var renderCli *pdf.Client
	if os.Getenv("PDF_RENDER_URL") != "" {
		cli, err := pdf.NewClient()
		if err != nil {
			slog.Warn("run: pdf client unavailable", "error", err)
		} else {
			renderCli = cli
		}
	}
	return patientCli, renderCli
}

// buildBotOptions assembles the pipeline options, loading the flow
// definition for the graph driver from the store or a file.
func buildBotOptions(ctx context.Context, flags Flags, st store.Store, ai genai.ClientInterface,
	patientCli *patients.Client, renderCli *pdf.Client, qm *queue.Manager) ([]bot.Option, error) {

	opts := []bot.Option{
		bot.WithDriver(bot.Driver(*flags.botDriver)),
		bot.WithQueue(qm),
	}
	if ai != nil {
		opts = append(opts, bot.WithGenAI(ai))
	}
	if patientCli != nil {
		opts = append(opts, bot.WithPatientService(patientCli))
	}
	if renderCli != nil {
		opts = append(opts, bot.WithCertificateRenderer(renderCli))
	}
	if *flags.schedulingLink != "" {
		opts = append(opts, bot.WithSchedulingLink(*flags.schedulingLink))
	}

	if bot.Driver(*flags.botDriver) == bot.DriverGraph {
		def, err := loadFlowDefinition(ctx, flags, st)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bot.WithFlowDefinition(def))
	}
	return opts, nil
}

// loadFlowDefinition prefers the stored principal flow, falling back to the
// file named by -flow-file.
func loadFlowDefinition(ctx context.Context, flags Flags, st store.Store) (*models.FlowDefinition, error) {
	def, err := st.GetFlowDefinition(ctx, api.DefaultFlowName)
	if err != nil {
		return nil, err
	}
	if def != nil {
		return def, nil
	}
	if *flags.flowFile == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(*flags.flowFile)
	if err != nil {
		return nil, err
	}
	parsed, err := models.ParseFlowDefinition(data)
	if err != nil {
		return nil, err
	}
	if err := st.SaveFlowDefinition(ctx, api.DefaultFlowName, parsed); err != nil {
		slog.Warn("run: failed to persist flow definition", "error", err)
	}
	return parsed, nil
}
