package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pii-redactor/internal/audit"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/stream"
)

const writeWait = 5 * time.Second

// clientMessage is what the browser sends on /stream. Text arrives already
// transcribed by the client's speech recognizer.
type clientMessage struct {
	Type string `json:"type"` // start | transcript | unclear | error | stop
	Text string `json:"text,omitempty"`
}

// serverMessage wraps one session event.
type serverMessage struct {
	Event string       `json:"event"`
	Data  stream.Event `json:"data"`
}

// handleStream runs one stream session per connection. The connection
// reader feeds the session without blocking, so a "stop" is never stuck
// behind a full buffer. Writes are serialized by writeMu.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warnf("ws_upgrade", "%v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed := stream.NewFeed(8)
	defer feed.Close()

	var (
		sess    *stream.Session
		writeMu sync.Mutex
	)
	emit := func(e stream.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // surfaced by WriteJSON
		if err := conn.WriteJSON(serverMessage{Event: e.EventType(), Data: e}); err != nil {
			a.log.Warnf("ws_write", "session=%s: %v", sess.ID(), err)
			sess.Stop()
			cancel()
		}
	}
	sess = stream.NewSession(feed, a.pipeline, emit, stream.Options{
		SilenceBudget: a.cfg.SilenceBudget,
		ListenTimeout: a.cfg.ListenTimeout(),
		Tier:          a.tierFrom(r.URL.Query().Get("redaction_level")),
	}, a.metrics, a.log)

	done := make(chan struct{})
	started := false
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debugf("ws_read", "session=%s: %v", sess.ID(), err)
			}
			break
		}
		switch msg.Type {
		case "start":
			if !started {
				started = true
				go func() {
					defer close(done)
					a.runSession(ctx, sess, feed, conn)
				}()
			}
		case "transcript":
			if started && errors.Is(feed.Offer(stream.Outcome{Kind: stream.OutcomeText, Text: msg.Text}), stream.ErrFeedFull) {
				a.log.Warnf("ws_read", "session=%s: transcript dropped, buffer full", sess.ID())
				emit(stream.ErrorEvent{Message: "transcript buffer full; chunk dropped"})
			}
		case "unclear":
			if started && errors.Is(feed.Offer(stream.Outcome{Kind: stream.OutcomeUnclear}), stream.ErrFeedFull) {
				a.log.Debugf("ws_read", "session=%s: unclear marker dropped, buffer full", sess.ID())
			}
		case "error":
			if started && errors.Is(feed.Offer(stream.Outcome{Kind: stream.OutcomeServiceError, Err: errors.New(msg.Text)}), stream.ErrFeedFull) {
				// The session ends either way.
				a.log.Warnf("ws_read", "session=%s: client error %q with full buffer, stopping", sess.ID(), msg.Text)
				sess.Stop()
				cancel()
			}
		case "stop":
			sess.Stop()
			cancel()
		default:
			a.log.Debugf("ws_read", "ignoring message type %q", msg.Type)
		}
	}

	sess.Stop()
	cancel()
	feed.Close()
	if started {
		<-done
	}
}

// runSession drives sess, records it, then closes the socket politely so the
// reader loop ends.
func (a *API) runSession(ctx context.Context, sess *stream.Session, feed *stream.Feed, conn *websocket.Conn) {
	reason, err := sess.Run(ctx)
	feed.Close()
	recordSession(a.recorder, sess.Summary(), a.log)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason))
	if err != nil {
		msg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "transcription service error")
	}
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // peer may be gone
	conn.SetReadDeadline(time.Now().Add(writeWait))                           //nolint:errcheck // best effort
}

func recordSession(rec audit.Recorder, s stream.Summary, log *logger.Logger) {
	if err := rec.RecordSession(context.Background(), audit.SessionOf(s)); err != nil {
		log.Warnf("audit", "session=%s: %v", s.ID, err)
	}
}
