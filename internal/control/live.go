package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ReaperCord/ghostWriter/internal/recorder"
	"github.com/ReaperCord/ghostWriter/pkg/audio"
)

// liveWriteTimeout bounds a single frame write so a stalled client cannot
// pin the subscriber goroutine.
const liveWriteTimeout = 5 * time.Second

// liveHeader is the JSON text frame sent once after the WebSocket upgrade,
// before any binary PCM frames.
type liveHeader struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// handleLive upgrades the request to a WebSocket and streams normalized
// int16 little-endian PCM as binary frames. The recorder's tap drops
// batches for subscribers that fall behind, so a slow client degrades its
// own stream and nothing else.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	sampleRate := s.rec.SampleRate()
	if sampleRate == 0 {
		writeError(w, http.StatusConflict, "not_initialized", recorder.ErrNotInitialized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("live: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	// The client never sends data frames; CloseRead discards anything but
	// close frames and cancels the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	s.metrics.LiveClients.Add(ctx, 1)
	defer s.metrics.LiveClients.Add(context.Background(), -1)

	hdr, err := json.Marshal(liveHeader{
		Type:       "format",
		SampleRate: sampleRate,
		Channels:   s.rec.Channels(),
		Encoding:   "pcm_s16le",
	})
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, hdr); err != nil {
		return
	}

	batches, cancel := s.rec.Subscribe()
	defer cancel()

	slog.Info("live subscriber connected", "remote", r.RemoteAddr)
	defer slog.Info("live subscriber disconnected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			wctx, cancelWrite := context.WithTimeout(ctx, liveWriteTimeout)
			err := conn.Write(wctx, websocket.MessageBinary, audio.PCMBytes(batch))
			cancelWrite()
			if err != nil {
				slog.Debug("live: frame write failed, dropping subscriber",
					"remote", r.RemoteAddr,
					"err", err,
				)
				return
			}
		}
	}
}
