package playback

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// LiveFeed broadcasts views to browsers over a websocket at /ws and serves the
// latest view as JSON at /state. Slow clients only ever get the newest view.
type LiveFeed struct {
	logger   *log.Logger
	addr     string
	interval time.Duration

	views *events.ChannelEvent[View]

	mu     sync.RWMutex
	latest View
	wg     sync.WaitGroup
}

// NewLiveFeed serves on addr while running; an empty addr only publishes,
// for callers that mount Handler themselves.
func NewLiveFeed(logger *log.Logger, addr string, interval time.Duration) *LiveFeed {
	if logger == nil {
		panic("LiveFeed: logger cannot be nil")
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &LiveFeed{
		logger:   logger,
		addr:     addr,
		interval: interval,
		views:    events.NewChannelEvent[View](true),
	}
}

func (l *LiveFeed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.serveWS)
	mux.HandleFunc("/state", l.serveState)
	return mux
}

// Clients is the number of connected websocket clients
func (l *LiveFeed) Clients() int {
	return l.views.ListenerCount()
}

func (l *LiveFeed) publish(v View) {
	l.mu.Lock()
	l.latest = v
	l.mu.Unlock()
	l.views.Notify(v)
}

func (l *LiveFeed) serveState(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	v := l.latest
	l.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.logger.Printf("LiveFeed: Write state: %v", err)
	}
}

func (l *LiveFeed) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Printf("LiveFeed: Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan View, 1)
	unlisten := l.views.Listen(ch)
	defer unlisten()
	l.logger.Printf("LiveFeed: Client connected from %s", r.RemoteAddr)

	// the client never sends anything; reading only notices it going away
	closed := go_func_utils.SafeGoDone(l.logger, func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			l.logger.Printf("LiveFeed: Client %s disconnected", r.RemoteAddr)
			return
		case v := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(v); err != nil {
				l.logger.Printf("LiveFeed: Write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

func (l *LiveFeed) Run(ctx context.Context, feeds *Feeds) error {
	var srv *http.Server
	serveErr := make(chan error, 1)
	if l.addr != "" {
		srv = &http.Server{Addr: l.addr, Handler: l.Handler(), ReadHeaderTimeout: 5 * time.Second}
		l.wg.Add(1)
		go_func_utils.SafeGo(l.logger, func() {
			defer l.wg.Done()
			l.logger.Printf("LiveFeed: Listening on %s", l.addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		})
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	var view View
	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-serveErr:
			l.logger.Printf("LiveFeed: Server failed: %v", err)
			break loop
		case <-ticker.C:
			if view.Pull(feeds) {
				l.publish(view)
			}
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		l.wg.Wait()
	}
	return err
}
