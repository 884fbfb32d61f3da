// Command scavenger is the mining client's main supervisor: it loads
// configuration, opens the store, and wires the State Worker, Challenge
// Source, and Challenge Manager actors together before waiting on a
// shutdown signal (§2 "Main supervisor", §4.4 "Shutdown handling").
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scavenger/internal/config"
	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/manager"
	"scavenger/internal/model"
	"scavenger/internal/source"
	"scavenger/internal/state"
	"scavenger/internal/store"
)

func main() {
	os.Exit(run())
}

// run implements the §6 exit-code contract: 0 on a clean shutdown, 1 on a
// fatal configuration or store-open error.
func run() int {
	var (
		configPath       = flag.String("config", "scavenger.json", "path to the configuration file")
		apiURL           = flag.String("api-url", "", "coordinator base URL")
		dataDir          = flag.String("data-dir", "", "data directory override")
		acceptTOS        = flag.Bool("accept-tos", false, "accept the coordinator's terms of service")
		threads          = flag.Int("threads", 0, "mining thread count override")
		paymentKey       = flag.String("payment-key", "", "persistent-mode secret key hex")
		mnemonic         = flag.String("mnemonic", "", "mnemonic-mode phrase")
		mnemonicAccount  = flag.Uint("mnemonic-account", 0, "mnemonic account index")
		mnemonicStart    = flag.Uint("mnemonic-starting-index", 0, "mnemonic starting index")
		ephemeralKey     = flag.Bool("ephemeral-key", false, "use ephemeral-mode key derivation")
		donateTo         = flag.String("donate-to", "", "donation target address")
		useWebsocket     = flag.Bool("websocket", false, "use the push-server challenge source instead of polling")
		wsPort           = flag.Int("ws-port", 0, "push-server listen port")
		migrateOldDataDir = flag.String("migrate-old-data-dir", "", "migrate an older store into this one, then exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if err := applyOverrides(cfg, *apiURL, *dataDir, *acceptTOS, *threads, *paymentKey, *mnemonic,
		uint32(*mnemonicAccount), uint32(*mnemonicStart), *ephemeralKey, *donateTo, *useWebsocket, *wsPort); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.LogDir(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		return 1
	}
	defer log.Close()

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		log.Errorf("main", "open store: %v", err)
		return 1
	}
	defer st.Close()

	if *migrateOldDataDir != "" {
		n, err := st.Migrate(*migrateOldDataDir)
		if err != nil {
			log.Errorf("main", "migrate state: %v", err)
			return 1
		}
		log.Infof("main", "migrated %d keys from %s", n, *migrateOldDataDir)
		return 0
	}

	client := coordinator.NewClient(cfg.APIURL)

	// Without a coordinator URL (push-server mode), the State Worker gets no
	// client and forwards solutions on its Outbound channel instead.
	var submitClient *coordinator.Client
	if cfg.APIURL != "" {
		submitClient = client
	}
	sw := state.NewWorker(st, submitClient, log)
	go sw.Run()

	mgr := manager.New(cfg, client, sw, log)
	go mgr.Run()

	if cfg.Websocket {
		push := source.NewPushServer(fmt.Sprintf("0.0.0.0:%d", cfg.WSPort), log, sw.Outbound)
		if err := push.Start(); err != nil {
			log.Errorf("main", "start push server: %v", err)
			return 1
		}
		defer push.Stop()
		forwardChallenges(push.NewChallenge, mgr)
	} else {
		poller := source.NewPoller(client, log)
		poller.Start()
		defer poller.Stop()
		forwardChallenges(poller.NewChallenge, mgr)
	}

	sw.Commands <- state.SweepPending()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("main", "shutting down")
	mgr.Commands <- manager.ShutdownCommand()
	<-mgr.Done()
	<-sw.Done()

	return 0
}

// forwardChallenges relays NewChallenge events from a Challenge Source onto
// the Manager's command queue.
func forwardChallenges(src <-chan model.Challenge, mgr *manager.Manager) {
	go func() {
		for c := range src {
			mgr.Commands <- manager.NewChallengeCommand(c)
		}
	}()
}

// applyOverrides layers CLI flags on top of the loaded configuration. The
// three key-mode flags are mutually exclusive (§9 "key mode conflicts are
// rejected at construction"): passing more than one is a fatal usage error
// rather than a silent priority order.
func applyOverrides(cfg *config.Settings, apiURL, dataDir string, acceptTOS bool, threads int,
	paymentKey, mnemonic string, mnemonicAccount, mnemonicStart uint32, ephemeralKey bool,
	donateTo string, useWebsocket bool, wsPort int) error {

	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if acceptTOS {
		cfg.AcceptTOS = true
	}
	if threads > 0 {
		cfg.Threads = threads
	}
	if donateTo != "" {
		cfg.DonateTo = donateTo
	}
	if useWebsocket {
		cfg.Websocket = true
	}
	if wsPort > 0 {
		cfg.WSPort = wsPort
	}

	modesSelected := 0
	if paymentKey != "" {
		modesSelected++
	}
	if mnemonic != "" {
		modesSelected++
	}
	if ephemeralKey {
		modesSelected++
	}
	if modesSelected > 1 {
		return fmt.Errorf("--payment-key, --mnemonic, and --ephemeral-key are mutually exclusive")
	}

	switch {
	case paymentKey != "":
		mode, err := config.NewPersistentMode(paymentKey)
		if err != nil {
			return fmt.Errorf("persistent key mode: %w", err)
		}
		cfg.Mode = mode
	case mnemonic != "":
		mode, err := config.NewMnemonicMode(mnemonic, mnemonicAccount, mnemonicStart)
		if err != nil {
			return fmt.Errorf("mnemonic key mode: %w", err)
		}
		cfg.Mode = mode
	case ephemeralKey:
		cfg.Mode = config.NewEphemeralMode()
	}
	return nil
}
