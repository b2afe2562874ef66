package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codrhq/codr/internal/bus"
	"github.com/codrhq/codr/internal/executor"
	"github.com/codrhq/codr/internal/jobstore"
	"github.com/codrhq/codr/internal/protocol"
	"github.com/codrhq/codr/internal/token"
	"github.com/codrhq/codr/internal/validator"
)

const (
	// firstFrameTimeout bounds how long a fresh socket may sit silent
	// before sending its execute frame.
	firstFrameTimeout = 5 * time.Second

	// closeGrace is the write deadline for close frames and the drain
	// window after the terminal frame.
	closeGrace = 3 * time.Second

	writeTimeout = 10 * time.Second
)

// Submission is an accepted execute request, ready to run.
type Submission struct {
	JobID    string
	Code     string
	Language protocol.Language
	Filename string
}

// RunnerFunc runs a submission, publishing frames to the bus and recording
// the outcome in the store. Tests inject their own.
type RunnerFunc func(ctx context.Context, sub Submission, input *executor.InputQueue)

// handleExecuteWS upgrades the connection and drives a session to
// completion.
func (s *Server) handleExecuteWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	sess := &session{srv: s, conn: conn}
	sess.run(r.Context())
}

// session is the per-connection orchestrator. One execute frame, one run,
// one terminal frame, then the socket closes.
type session struct {
	srv  *Server
	conn *websocket.Conn

	// writeMu serializes socket writes: the forwarding goroutine and the
	// input reader both answer on the same connection, and the connection
	// supports only one writer at a time.
	writeMu sync.Mutex
}

func (ss *session) run(ctx context.Context) {
	defer ss.conn.Close()

	sub, ok := ss.handshake(ctx)
	if !ok {
		return
	}

	s := ss.srv
	logger := s.logger.With("job_id", sub.JobID, "language", sub.Language)

	// Subscribe before launching so no frame can slip past.
	var feed bus.Subscription
	err := withRetry(ctx, func() error {
		var err error
		feed, err = s.bus.Subscribe(ctx, bus.OutputTopic(sub.JobID), bus.CompleteTopic(sub.JobID))
		return err
	})
	if err != nil {
		logger.Error("subscribe", "error", err)
		ss.fail("internal error", websocket.CloseInternalServerErr)
		return
	}
	defer feed.Close()

	if err := ss.transition(ctx, sub, logger); err != nil {
		ss.fail("internal error", websocket.CloseInternalServerErr)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := executor.NewInputQueue()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runner(runCtx, sub, input)
	}()

	// Reader: interactive input frames, and disconnect detection.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		ss.readInput(input)
	}()

	logger.Info("execution started")

	terminal := ss.forward(feed, readerDone)
	if !terminal {
		// Client went away mid-run. Kill the process and let the runner
		// record the outcome.
		logger.Info("client disconnected, cancelling execution")
		cancel()
	}

	// Cancellation kills the process group on the next poll tick, so the
	// runner must wind down well inside the grace window.
	select {
	case <-runDone:
	case <-time.After(closeGrace):
		logger.Error("runner did not finish after cancellation")
	}

	if terminal {
		ss.close(websocket.CloseNormalClosure, "")
	}
}

// transition records the submission and moves the job to processing.
// Domain errors (expired job, illegal transition) are final; transport
// hiccups get the one retry.
func (ss *session) transition(ctx context.Context, sub Submission, logger *slog.Logger) error {
	err := retryUnlessDomain(ctx, func() error {
		return ss.srv.store.SetSubmission(ctx, sub.JobID, sub.Code, sub.Language, sub.Filename)
	})
	if err != nil {
		logger.Error("record submission", "error", err)
		return err
	}

	err = retryUnlessDomain(ctx, func() error {
		return ss.srv.store.MarkProcessing(ctx, sub.JobID)
	})
	if err != nil {
		logger.Error("mark processing", "error", err)
		return err
	}
	return nil
}

// retryUnlessDomain retries transient store errors only; a domain error
// will not change on a second attempt.
func retryUnlessDomain(ctx context.Context, op func() error) error {
	return withRetry(ctx, func() error {
		err := op()
		if errors.Is(err, jobstore.ErrIllegalTransition) || errors.Is(err, jobstore.ErrNotFound) {
			return &permanentError{err}
		}
		return err
	})
}

// handshake reads and authenticates the execute frame. On success the job
// is bound to this session.
func (ss *session) handshake(ctx context.Context) (Submission, bool) {
	s := ss.srv

	ss.conn.SetReadDeadline(time.Now().Add(firstFrameTimeout))
	_, data, err := ss.conn.ReadMessage()
	if err != nil {
		ss.close(websocket.ClosePolicyViolation, "expected execute frame")
		return Submission{}, false
	}
	ss.conn.SetReadDeadline(time.Time{})

	frameType, err := protocol.PeekType(data)
	if err != nil || frameType != protocol.TypeExecute {
		ss.fail("expected execute frame", websocket.ClosePolicyViolation)
		return Submission{}, false
	}

	frame, err := protocol.Decode[protocol.Execute](data)
	if err != nil {
		ss.fail("malformed execute frame", websocket.ClosePolicyViolation)
		return Submission{}, false
	}

	jobID, err := s.tokens.Consume(ctx, s.store, frame.JobToken)
	if err != nil {
		reason := "invalid job token"
		if errors.Is(err, token.ErrUsed) {
			reason = "job token already used"
		}
		s.countRejection("token")
		ss.fail(reason, websocket.ClosePolicyViolation)
		return Submission{}, false
	}
	if frame.JobID != jobID {
		s.countRejection("token")
		ss.fail("job token does not match job", websocket.ClosePolicyViolation)
		return Submission{}, false
	}

	if !frame.Language.Valid() {
		s.countRejection("language")
		ss.rejectJob(ctx, jobID, fmt.Sprintf("unsupported language: %s", frame.Language))
		return Submission{}, false
	}
	if len(frame.Code) == 0 {
		s.countRejection("empty")
		ss.rejectJob(ctx, jobID, "code is empty")
		return Submission{}, false
	}
	if len(frame.Code) > s.cfg.MaxCodeBytes {
		s.countRejection("size")
		ss.rejectJob(ctx, jobID, fmt.Sprintf("code exceeds %d bytes", s.cfg.MaxCodeBytes))
		return Submission{}, false
	}

	filename := frame.Filename
	if filename == "" {
		filename = frame.Language.DefaultFilename()
	}
	if err := executor.ValidateFilename(filename); err != nil {
		s.countRejection("filename")
		ss.rejectJob(ctx, jobID, err.Error())
		return Submission{}, false
	}

	if ok, reason := validator.Validate(frame.Language, frame.Code); !ok {
		s.countRejection("validation")
		ss.rejectJob(ctx, jobID, "code validation failed: "+reason)
		return Submission{}, false
	}

	return Submission{
		JobID:    jobID,
		Code:     frame.Code,
		Language: frame.Language,
		Filename: filename,
	}, true
}

// forward relays bus frames to the socket until the terminal frame arrives
// or the client disconnects. It reports whether the terminal frame was sent.
func (ss *session) forward(feed bus.Subscription, readerDone <-chan struct{}) bool {
	for {
		select {
		case env, ok := <-feed.C():
			if !ok {
				return false
			}
			if err := ss.write(env.Data); err != nil {
				return false
			}
			frameType, err := protocol.PeekType(env.Data)
			if err == nil && protocol.IsTerminal(frameType) {
				return true
			}
		case <-readerDone:
			return false
		}
	}
}

// readInput consumes input frames until the socket errors. Oversized or
// malformed frames draw an error frame but keep the session alive.
func (ss *session) readInput(input *executor.InputQueue) {
	s := ss.srv
	for {
		_, data, err := ss.conn.ReadMessage()
		if err != nil {
			return
		}

		frameType, err := protocol.PeekType(data)
		if err != nil || frameType != protocol.TypeInput {
			ss.writeFrame(protocol.NewError("expected input frame"))
			continue
		}

		frame, err := protocol.Decode[protocol.Input](data)
		if err != nil {
			ss.writeFrame(protocol.NewError("malformed input frame"))
			continue
		}
		if len(frame.Data) > s.cfg.MaxInputBytes {
			ss.writeFrame(protocol.NewError(fmt.Sprintf("input exceeds %d bytes", s.cfg.MaxInputBytes)))
			continue
		}

		if !input.TryPush([]byte(frame.Data)) {
			ss.writeFrame(protocol.NewError("input buffer full"))
		}
	}
}

// rejectJob records a pre-execution refusal and closes with 1003.
func (ss *session) rejectJob(ctx context.Context, jobID, reason string) {
	if err := ss.srv.store.MarkFailed(ctx, jobID, reason, nil); err != nil {
		ss.srv.logger.Error("mark failed", "job_id", jobID, "error", err)
	}
	ss.fail(reason, websocket.CloseUnsupportedData)
}

// fail sends an error frame and then the close frame.
func (ss *session) fail(message string, closeCode int) {
	ss.writeFrame(protocol.NewError(message))
	ss.close(closeCode, message)
}

func (ss *session) writeFrame(frame any) error {
	data, err := protocol.Marshal(frame)
	if err != nil {
		return err
	}
	return ss.write(data)
}

func (ss *session) write(data []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ss.conn.WriteMessage(websocket.TextMessage, data)
}

func (ss *session) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	ss.conn.WriteMessage(websocket.CloseMessage, msg)
}

func (s *Server) countRejection(reason string) {
	if s.metrics != nil {
		s.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	}
}

// executeJob is the production RunnerFunc: it runs the submission under the
// language executor, streams output to the bus, records the outcome, and
// publishes the terminal frame.
func (s *Server) executeJob(ctx context.Context, sub Submission, input *executor.InputQueue) {
	logger := s.logger.With("job_id", sub.JobID, "language", sub.Language)

	// Bookkeeping must land even when ctx was cancelled by a disconnect.
	bookCtx := context.Background()

	ex, err := executor.New(sub.Language, s.cfg)
	if err != nil {
		s.finishFailed(bookCtx, sub, "unsupported language", nil)
		return
	}

	outputTopic := bus.OutputTopic(sub.JobID)
	onOutput := func(chunk []byte) {
		frame, err := protocol.Marshal(protocol.NewOutput(protocol.StreamStdout, chunk))
		if err != nil {
			return
		}
		if err := s.bus.Publish(ctx, outputTopic, frame); err != nil {
			logger.Warn("publish output", "error", err)
		}
	}

	result, err := ex.Execute(ctx, executor.Request{
		Source:   sub.Code,
		Filename: sub.Filename,
		OnOutput: onOutput,
		Input:    input,
	})
	if err != nil {
		logger.Error("execution failed", "error", err)
		s.finishFailed(bookCtx, sub, "execution failed", nil)
		return
	}

	// Compile logs and timeout notices arrive out of band of the PTY
	// stream, on stderr.
	if result.Stderr != "" {
		frame, err := protocol.Marshal(protocol.NewOutput(protocol.StreamStderr, []byte(result.Stderr)))
		if err == nil {
			s.bus.Publish(bookCtx, outputTopic, frame)
		}
	}

	stored := jobstore.Result{
		Success:    result.Success,
		ExitCode:   result.ExitCode,
		ElapsedSec: result.ElapsedSec,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
	}
	if err := s.store.MarkCompleted(bookCtx, sub.JobID, stored); err != nil {
		logger.Error("mark completed", "error", err)
	}

	if s.metrics != nil {
		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		s.metrics.ExecutionsTotal.WithLabelValues(string(sub.Language), outcome).Inc()
		s.metrics.ExecutionDuration.WithLabelValues(string(sub.Language)).Observe(result.ElapsedSec)
	}
	logger.Info("execution finished", "exit_code", result.ExitCode, "elapsed_sec", result.ElapsedSec)

	frame, err := protocol.Marshal(protocol.NewComplete(result.ExitCode, result.ElapsedSec))
	if err != nil {
		return
	}
	if err := s.bus.Publish(bookCtx, bus.CompleteTopic(sub.JobID), frame); err != nil {
		logger.Warn("publish complete", "error", err)
	}
}

// finishFailed records an infrastructure failure and publishes the error
// frame as the job's terminal message.
func (s *Server) finishFailed(ctx context.Context, sub Submission, message string, partial *jobstore.Result) {
	if err := s.store.MarkFailed(ctx, sub.JobID, message, partial); err != nil {
		s.logger.Error("mark failed", "job_id", sub.JobID, "error", err)
	}
	frame, err := protocol.Marshal(protocol.NewError(message))
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, bus.CompleteTopic(sub.JobID), frame); err != nil {
		s.logger.Warn("publish error frame", "job_id", sub.JobID, "error", err)
	}
}
