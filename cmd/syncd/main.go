package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/openscribe/syncd/internal/apiclient"
	"github.com/openscribe/syncd/internal/config"
	"github.com/openscribe/syncd/internal/discovery"
	"github.com/openscribe/syncd/internal/presence"
	"github.com/openscribe/syncd/internal/realtime"
	"github.com/openscribe/syncd/internal/spool"
	"github.com/openscribe/syncd/internal/syncstatus"
	"github.com/openscribe/syncd/internal/updatelog"
)

const flushInterval = 2 * time.Second

func main() {
	cfg := loadConfig()
	accessToken := os.Getenv("SYNCD_ACCESS_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayURL := cfg.RelayURL
	if relayURL == "" && cfg.Discovery.Enabled {
		relayURL = discoverRelay(ctx, cfg)
	}
	if relayURL == "" {
		log.Fatalf("no relay url configured and discovery found none")
	}

	api := apiclient.New(apiclient.Options{
		BaseURL: cfg.APIURL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return accessToken, nil
		},
		MaxRetries: cfg.MaxRetries,
		UserAgent:  "syncd/1.0",
		Logger:     log.Default(),
	})

	pendingLog, err := updatelog.Open(updatelog.Options{Path: updateLogPath(cfg)})
	if err != nil {
		log.Fatalf("failed to open update log: %v", err)
	}
	defer pendingLog.Close()

	controller := syncstatus.NewController(syncstatus.Options{
		BannerReappearDelay: cfg.BannerDelay(),
	})
	controller.Observe(func(s syncstatus.Snapshot) {
		log.Printf("sync status: %s (pending=%d banner=%v)", s.Status, s.Pending, s.BannerVisible)
	})

	publishPending := func() {
		count, err := pendingLog.Pending()
		if err != nil {
			log.Printf("pending count unavailable: %v", err)
			return
		}
		controller.SetPending(count)
	}

	peers := presence.NewTracker(presence.TrackerOptions{})

	session, err := realtime.NewSession(realtime.SessionOptions{
		URL: relayURL,
		TicketProvider: func(ctx context.Context) (string, error) {
			return accessToken, nil
		},
		Logger: log.Default(),
		Callbacks: realtime.Callbacks{
			OnStatus: func(status realtime.Status) {
				controller.SetSessionStatus(status)
			},
			OnProgress: func(progress realtime.ReconnectProgress) {
				controller.SetProgress(progress)
			},
			OnAck: func(ack realtime.Ack) {
				if !ack.Applied {
					return
				}
				if err := pendingLog.MarkApplied(ack.ClientUpdateID, ack.ServerSeq); err != nil {
					log.Printf("failed to clear acked update %s: %v", ack.ClientUpdateID, err)
					return
				}
				publishPending()
			},
			OnAwareness: func(update realtime.AwarenessUpdate) {
				entries := make([]presence.AwarenessEntry, 0, len(update.Peers))
				for _, peer := range update.Peers {
					entries = append(entries, presence.AwarenessEntry{ClientID: peer.ClientID, State: peer.State})
				}
				snapshots := presence.ReadPeers(entries, presence.ReadPeersOptions{})
				peers.Observe(snapshots)
				log.Printf("doc %s: %d peers present", update.DocID, len(snapshots))
			},
			OnSessionError: func(frame *realtime.ErrorFrame) {
				if frame.Retryable {
					log.Printf("transient session error: %v", frame)
					return
				}
				controller.SetError(frame)
			},
		},
	})
	if err != nil {
		log.Fatalf("failed to build session: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("session stopped: %v", err)
			controller.SetError(err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		subscribeDocuments(ctx, api, session, cfg.WorkspaceID)
	}()

	if cfg.SpoolDir != "" {
		watcher, err := spool.NewWatcher(spool.Options{
			Dir:    cfg.SpoolDir,
			Logger: log.Default(),
			Enqueue: func(docID string, payload []byte) error {
				if _, err := pendingLog.Append(docID, 0, payload); err != nil {
					return err
				}
				publishPending()
				return nil
			},
		})
		if err != nil {
			log.Fatalf("failed to watch spool dir: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("spool watcher stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		flushLoop(ctx, session, pendingLog)
	}()

	publishPending()
	log.Printf("syncd running: workspace=%s relay=%s", cfg.WorkspaceID, relayURL)
	<-ctx.Done()
	wg.Wait()
}

// subscribeDocuments attaches the session to every document in the
// workspace, paging through the management API.
func subscribeDocuments(ctx context.Context, api *apiclient.Client, session *realtime.Session, workspaceID string) {
	cursor := ""
	for {
		page, err := api.ListDocuments(ctx, workspaceID, cursor, 100)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("failed to list documents: %v", err)
			}
			return
		}
		for _, doc := range page.Documents {
			if err := session.Subscribe(ctx, doc.ID); err != nil {
				log.Printf("subscribe %s failed: %v", doc.ID, err)
			}
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			return
		}
		cursor = *page.NextCursor
	}
}

// flushLoop drains the durable update log whenever the session is connected.
// Entries stay in the log until their acks arrive, so a crash mid-flush just
// replays idempotent updates.
func flushLoop(ctx context.Context, session *realtime.Session, pendingLog *updatelog.Log) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if session.Status().State != realtime.StateConnected {
			continue
		}
		batch, err := pendingLog.NextBatch(64)
		if err != nil {
			log.Printf("update log read failed: %v", err)
			continue
		}
		for _, update := range batch {
			err := session.SendUpdate(ctx, update.DocID, update.ClientUpdateID, update.BaseSeq, update.Payload)
			if err != nil {
				break
			}
		}
	}
}

func discoverRelay(ctx context.Context, cfg config.Config) string {
	timeout := cfg.DiscoveryTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	relays, err := discovery.Browse(browseCtx, cfg.Discovery.Service, log.Default())
	if err != nil {
		log.Printf("relay discovery failed: %v", err)
		return ""
	}
	if len(relays) == 0 {
		return ""
	}
	log.Printf("using discovered relay %s", relays[0].Instance)
	return relays[0].URL
}

func loadConfig() config.Config {
	var cfg config.Config
	if path := os.Getenv("SYNCD_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("invalid config file %s: %v", path, err)
		}
		cfg = loaded
	}
	cfg.WorkspaceID = stringEnv("SYNCD_WORKSPACE_ID", cfg.WorkspaceID)
	cfg.APIURL = stringEnv("SYNCD_API_URL", cfg.APIURL)
	cfg.RelayURL = stringEnv("SYNCD_RELAY_URL", cfg.RelayURL)
	cfg.SpoolDir = stringEnv("SYNCD_SPOOL_DIR", cfg.SpoolDir)
	cfg.UpdateLogPath = stringEnv("SYNCD_UPDATE_LOG", cfg.UpdateLogPath)
	cfg.MaxRetries = intEnv("SYNCD_MAX_RETRIES", cfg.MaxRetries)
	if cfg.WorkspaceID == "" || cfg.APIURL == "" {
		log.Fatalf("workspace id and api url are required (config file or SYNCD_WORKSPACE_ID / SYNCD_API_URL)")
	}
	return cfg
}

func updateLogPath(cfg config.Config) string {
	if cfg.UpdateLogPath != "" {
		return cfg.UpdateLogPath
	}
	return "syncd-updates.db"
}

func stringEnv(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
