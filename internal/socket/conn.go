package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbalsam/ripple/internal/api"
	"github.com/tbalsam/ripple/internal/logger"
	"github.com/tbalsam/ripple/internal/pubsub"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/wire"
)

const (
	// responseTimeout bounds how long a handler may run before the client
	// is told its message timed out.
	responseTimeout = 30 * time.Second
	// idleTimeout terminates connections with no inbound frames.
	idleTimeout = 120 * time.Second
	// activityDecayInterval is how long after the last non-PING frame the
	// connection still counts as recently active.
	activityDecayInterval = 3 * time.Second
	// compressionCodeVersion is the first client build that understands
	// COMPRESSED_MESSAGE frames.
	compressionCodeVersion = 75

	teardownTimeout = 5 * time.Second
)

// Deps bundles what a connection needs to run the protocol.
type Deps struct {
	Sessions  *session.Manager
	Cookies   session.CookieStore
	Bus       pubsub.Bus
	Endpoints *api.Registry
}

// Conn drives one WebSocket connection: inbound frames are handled one at a
// time, outbound frames flow through the delivery queue so fan-out pushes
// never interleave with handler responses out of order.
type Conn struct {
	deps  Deps
	ws    *websocket.Conn
	queue *DeliveryQueue

	writeMu sync.Mutex

	mu          sync.Mutex
	viewer      *session.Viewer
	initialized bool

	// State-check conditions. A proactive check only starts when both are
	// false: the client is quiet and no round is in flight.
	activityRecentlyOccurred bool
	stateCheckOngoing        bool

	idleTimer          *time.Timer
	activityDecayTimer *time.Timer
	stateCheckTimer    *time.Timer

	subscription pubsub.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

// Serve runs the protocol on an upgraded connection and blocks until it
// dies. The caller owns nothing afterwards; teardown is complete on return.
func Serve(deps Deps, ws *websocket.Conn) {
	c := &Conn{
		deps:   deps,
		ws:     ws,
		closed: make(chan struct{}),
		// A fresh connection counts as active so a state check cannot
		// fire into the middle of initialization.
		activityRecentlyOccurred: true,
	}
	c.queue = NewDeliveryQueue(c.send, func(err error) {
		logger.Errorf("socket delivery: %v", err)
	})
	c.run()
}

func (c *Conn) run() {
	defer c.teardown()
	c.resetIdleTimeout()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				logger.Debugf("socket read: %v", err)
			}
			return
		}
		c.resetIdleTimeout()

		message, err := wire.ParseClientMessage(data)
		if err != nil {
			c.queue.AddMessage(wire.NewErrorMessage(nil, ErrCodeInvalidMessage, err.Error()))
			continue
		}
		c.dispatch(message)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

type handlerResult struct {
	messages []wire.ServerMessage
	err      error
}

// dispatch runs one handler, racing it against the response timeout the way
// clients expect: a slow handler produces a recoverable timeout error and
// the connection moves on.
func (c *Conn) dispatch(message wire.ClientMessage) {
	if message.MessageType() != wire.ClientMessagePing {
		c.markActivityOccurred()
		c.extendCookieLifespan()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resultCh := make(chan handlerResult, 1)
	go func() {
		messages, err := c.handle(ctx, message)
		resultCh <- handlerResult{messages: messages, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			c.handleError(message.MessageID(), result.err)
			return
		}
		for _, m := range result.messages {
			c.queue.AddMessage(m)
		}
	case <-time.After(responseTimeout):
		cancel()
		responseTo := message.MessageID()
		c.queue.AddMessage(wire.NewErrorMessage(&responseTo, ErrCodeResponseTimeout, nil))
	case <-c.closed:
	}
}

func (c *Conn) handle(ctx context.Context, message wire.ClientMessage) ([]wire.ServerMessage, error) {
	if msg, ok := message.(wire.InitialMessage); ok {
		return c.handleInitial(ctx, msg)
	}
	// INITIAL must come first. Even a PING carries no credentials, so an
	// uninitialized connection gets nothing but the error back.
	if !c.isInitialized() {
		return nil, NewServerError(ErrCodeUninitialized)
	}
	switch msg := message.(type) {
	case wire.ResponsesMessage:
		return c.handleResponses(ctx, msg)
	case wire.PingMessage:
		return []wire.ServerMessage{wire.NewPongMessage(msg.ID)}, nil
	case wire.AckUpdatesMessage:
		return nil, c.handleAckUpdates(ctx, msg)
	case wire.APIRequestMessage:
		return c.handleAPIRequest(ctx, msg)
	}
	return nil, fmt.Errorf("unhandled message type %s", message.MessageType())
}

func (c *Conn) handleInitial(ctx context.Context, msg wire.InitialMessage) ([]wire.ServerMessage, error) {
	if c.isInitialized() {
		return nil, NewServerError(ErrCodeAlreadyInitialized)
	}

	viewer, err := session.FetchViewer(ctx, c.deps.Cookies, msg.SessionIdentification, time.Now())
	if err != nil {
		return nil, err
	}
	c.setViewer(viewer)
	if err := session.VerifyClientSupported(viewer); err != nil {
		return nil, err
	}

	procResult, err := c.deps.Sessions.ProcessClientResponses(ctx, viewer, msg.ClientResponses)
	if err != nil {
		return nil, err
	}
	_, payload, err := c.deps.Sessions.InitializeSession(ctx, viewer, msg.SessionState)
	if err != nil {
		return nil, err
	}

	// Activity and request acks go ahead of STATE_SYNC so the client has
	// processed them before it rebuilds its store from the sync payload.
	var messages []wire.ServerMessage
	if procResult.ActivityUpdateResult != nil {
		messages = append(messages, wire.ActivityUpdateResponseMessage{
			Type:       wire.ServerMessageActivityUpdateResponse,
			ResponseTo: msg.ID,
			Payload:    *procResult.ActivityUpdateResult,
		})
	}
	if len(procResult.ServerRequests) > 0 || len(msg.ClientResponses) > 0 {
		messages = append(messages, wire.NewRequestsMessage(msg.ID, requestsOrEmpty(procResult.ServerRequests)))
	}
	messages = append(messages, wire.NewStateSyncMessage(msg.ID, payload))

	c.markInitialized()
	if err := c.subscribe(viewer); err != nil {
		logger.Errorf("socket subscribe for user %s: %v", viewer.UserID(), err)
	}
	c.handleStateCheckConditionsUpdate()
	return messages, nil
}

func (c *Conn) handleResponses(ctx context.Context, msg wire.ResponsesMessage) ([]wire.ServerMessage, error) {
	viewer, ok := c.initializedViewer()
	if !ok {
		return nil, NewServerError(ErrCodeUninitialized)
	}

	procResult, err := c.deps.Sessions.ProcessClientResponses(ctx, viewer, msg.ClientResponses)
	if err != nil {
		return nil, err
	}

	serverRequests := procResult.ServerRequests
	// A state_check status only ever starts from this connection's own
	// timer; validated and invalid statuses conclude a round here.
	if status := procResult.StateCheckStatus; status != nil && status.State != session.StateCheck {
		result, err := c.deps.Sessions.CheckState(ctx, viewer, *status)
		if err != nil {
			return nil, err
		}
		if err := c.deps.Sessions.CommitStateCheck(ctx, viewer, result); err != nil {
			return nil, err
		}
		if result.SessionUpdate != nil {
			c.setStateCheckOngoing(false)
		}
		if result.CheckStateRequest != nil {
			serverRequests = append(serverRequests, *result.CheckStateRequest)
		}
	}

	// The REQUESTS frame goes out even when empty, it acks the client's
	// responses.
	return []wire.ServerMessage{
		wire.NewRequestsMessage(msg.ID, requestsOrEmpty(serverRequests)),
	}, nil
}

func (c *Conn) handleAckUpdates(ctx context.Context, msg wire.AckUpdatesMessage) error {
	viewer, ok := c.initializedViewer()
	if !ok {
		return NewServerError(ErrCodeUninitialized)
	}
	return c.deps.Sessions.AckUpdates(ctx, viewer, msg.CurrentAsOf)
}

func (c *Conn) handleAPIRequest(ctx context.Context, msg wire.APIRequestMessage) ([]wire.ServerMessage, error) {
	viewer, ok := c.initializedViewer()
	if !ok {
		return nil, NewServerError(ErrCodeUninitialized)
	}
	endpoint, ok := c.deps.Endpoints.Lookup(msg.Endpoint)
	if !ok || !endpoint.SocketSafe {
		return nil, NewServerError(ErrCodeEndpointUnsafe)
	}

	sessionBefore := viewer.SessionID()
	response, err := endpoint.Responder(ctx, viewer, msg.Input)
	if err != nil {
		return nil, err
	}
	// The subscription and timers are keyed to the session this socket
	// authenticated with. An endpoint that swapped it out from under the
	// connection leaves the socket unusable.
	if viewer.SessionID() != sessionBefore {
		return nil, NewServerError(ErrCodeSessionMutated)
	}
	return []wire.ServerMessage{wire.APIResponseMessage{
		Type:       wire.ServerMessageAPIResponse,
		ResponseTo: msg.ID,
		Payload:    response,
	}}, nil
}

// handleError sorts handler failures into the fatal close paths and the
// recoverable ERROR frame path.
func (c *Conn) handleError(responseTo int64, err error) {
	var serverErr *ServerError

	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		c.authErrorAndClose(responseTo, ErrCodeDeauthorized, CloseDeauthorized, false)

	case errors.Is(err, session.ErrClientVersionUnsupported):
		c.authErrorAndClose(responseTo, ErrCodeClientVersionUnsupported, CloseClientVersionUnsupported, true)

	case errors.Is(err, session.ErrNotLoggedIn):
		c.send(wire.NewErrorMessage(&responseTo, ErrCodeNotLoggedIn, nil))
		c.closeWithCode(CloseNotLoggedIn, ErrCodeNotLoggedIn)

	case errors.As(err, &serverErr) && serverErr.Code == ErrCodeSessionMutated:
		c.send(wire.NewErrorMessage(&responseTo, serverErr.Code, serverErr.Payload))
		c.closeWithCode(CloseSessionMutated, serverErr.Code)

	case errors.As(err, &serverErr):
		c.queue.AddMessage(wire.NewErrorMessage(&responseTo, serverErr.Code, serverErr.Payload))

	default:
		logger.Errorf("socket handler: %v", err)
		c.queue.AddMessage(wire.NewErrorMessage(&responseTo, ErrCodeInternal, nil))
	}
}

// authErrorAndClose tears the connection down over bad credentials. The
// client gets a fresh anonymous credential along with the AUTH_ERROR so it
// can reconnect without a registration round trip.
func (c *Conn) authErrorAndClose(responseTo int64, code string, closeCode int, deleteCookie bool) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	viewer := c.getViewer()
	platform := ""
	if viewer != nil {
		if details := viewer.PlatformDetails(); details != nil {
			platform = details.Platform
		}
		if deleteCookie {
			if err := c.deps.Cookies.DeleteCookie(ctx, viewer.CookieID()); err != nil {
				logger.Warnf("delete cookie %s: %v", viewer.CookieID(), err)
			}
		}
	}

	var sessionChange *wire.SessionChange
	credential, err := session.IssueAnonymousCookie(ctx, c.deps.Cookies, platform, time.Now())
	if err != nil {
		logger.Errorf("issue anonymous cookie: %v", err)
	} else {
		sessionChange = &wire.SessionChange{
			Cookie:          credential.Cookie,
			CurrentUserInfo: credential.CurrentUserInfo,
		}
	}

	c.send(wire.AuthErrorMessage{
		Type:          wire.ServerMessageAuthError,
		ResponseTo:    responseTo,
		Message:       code,
		SessionChange: sessionChange,
	})
	c.closeWithCode(closeCode, code)
}

// subscribe attaches the connection to the fan-out bus. The bus announces
// the takeover first, so a previous connection holding the same session
// terminates.
func (c *Conn) subscribe(viewer *session.Viewer) error {
	sub, err := c.deps.Bus.Subscribe(viewer.UserID(), viewer.SessionID(), c.onBusEvent)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
	return nil
}

func (c *Conn) onBusEvent(event pubsub.Event) {
	switch event.Type {
	case pubsub.EventStartSubscription:
		// Another connection owns this session now.
		c.terminate()

	case pubsub.EventNewUpdates:
		c.markActivityOccurred()
		updates := event.Updates
		c.queue.Add(func() (wire.ServerMessage, error) {
			if len(updates) == 0 {
				return nil, nil
			}
			return wire.UpdatesMessage{
				Type: wire.ServerMessageUpdates,
				Payload: wire.UpdatesPayload{
					UpdatesResult: wire.UpdatesResult{
						NewUpdates:  updates,
						CurrentAsOf: updates[len(updates)-1].Time,
					},
					UserInfos: []wire.UserInfo{},
				},
			}, nil
		})

	case pubsub.EventNewMessages:
		c.markActivityOccurred()
		messages := event.Messages
		c.queue.Add(func() (wire.ServerMessage, error) {
			if len(messages) == 0 {
				return nil, nil
			}
			return wire.MessagesMessage{
				Type: wire.ServerMessageMessages,
				Payload: wire.MessagesPayload{
					MessagesResult: wire.MessagesResult{
						RawMessageInfos:    messages,
						TruncationStatuses: map[string]string{},
						CurrentAsOf:        messages[len(messages)-1].Time,
					},
				},
			}, nil
		})
	}
}

// send serializes and writes one frame. It runs on the queue's flusher
// goroutine for ordered traffic and directly for fatal frames that must
// reach the wire before the close handshake.
func (c *Conn) send(message wire.ServerMessage) {
	data, err := wire.MaybeCompress(message, c.compressionSupported())
	if err != nil {
		logger.Errorf("encode %s frame: %v", message.ServerMessageType(), err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debugf("socket write: %v", err)
	}
}

func (c *Conn) compressionSupported() bool {
	viewer := c.getViewer()
	return viewer != nil && viewer.HasMinCodeVersion(compressionCodeVersion)
}

func (c *Conn) closeWithCode(code int, reason string) {
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.writeMu.Unlock()
	c.terminate()
}

func (c *Conn) terminate() {
	c.closeOnce.Do(func() { close(c.closed) })
	_ = c.ws.Close()
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	for _, t := range []*time.Timer{c.idleTimer, c.activityDecayTimer, c.stateCheckTimer} {
		if t != nil {
			t.Stop()
		}
	}
	sub := c.subscription
	viewer := c.viewer
	initialized := c.initialized
	c.mu.Unlock()

	c.queue.Close()
	if sub != nil {
		if err := sub.Close(); err != nil {
			logger.Debugf("close subscription: %v", err)
		}
	}
	if initialized && viewer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := c.deps.Sessions.CleanupSession(ctx, viewer); err != nil {
			logger.Warnf("cleanup session %s: %v", viewer.SessionID(), err)
		}
	}
	_ = c.ws.Close()
}

func (c *Conn) resetIdleTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(idleTimeout, c.terminate)
}

// extendCookieLifespan is fire-and-forget, matching what HTTP requests get
// from middleware.
func (c *Conn) extendCookieLifespan() {
	viewer := c.getViewer()
	if viewer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := c.deps.Cookies.ExtendCookieLifespan(ctx, viewer.CookieID(), time.Now().UnixMilli()); err != nil {
			logger.Debugf("extend cookie lifespan: %v", err)
		}
	}()
}

func (c *Conn) markActivityOccurred() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activityRecentlyOccurred = true
	if c.activityDecayTimer != nil {
		c.activityDecayTimer.Stop()
	}
	c.activityDecayTimer = time.AfterFunc(activityDecayInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.activityRecentlyOccurred = false
		c.updateStateCheckTimerLocked()
	})
	c.updateStateCheckTimerLocked()
}

func (c *Conn) setStateCheckOngoing(ongoing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCheckOngoing = ongoing
	c.updateStateCheckTimerLocked()
}

func (c *Conn) handleStateCheckConditionsUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateStateCheckTimerLocked()
}

// updateStateCheckTimerLocked keeps the proactive-check timer consistent
// with the conditions: armed at lastValidated + frequency only while the
// connection is initialized, quiet and not already mid-round.
func (c *Conn) updateStateCheckTimerLocked() {
	canStart := c.initialized && !c.activityRecentlyOccurred && !c.stateCheckOngoing
	if !canStart {
		if c.stateCheckTimer != nil {
			c.stateCheckTimer.Stop()
			c.stateCheckTimer = nil
		}
		return
	}
	if c.stateCheckTimer != nil {
		return
	}
	if c.viewer == nil || !c.viewer.LoggedIn() {
		return
	}
	lastValidated := time.UnixMilli(c.viewer.LastValidated())
	delay := time.Until(lastValidated.Add(session.StateCheckFrequency))
	if delay < 0 {
		delay = 0
	}
	c.stateCheckTimer = time.AfterFunc(delay, c.initiateStateCheck)
}

// initiateStateCheck starts a proactive round with one hash per collection,
// delivered as an unsolicited REQUESTS frame.
func (c *Conn) initiateStateCheck() {
	c.mu.Lock()
	c.stateCheckTimer = nil
	c.stateCheckOngoing = true
	c.mu.Unlock()

	viewer := c.getViewer()
	if viewer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()
	result, err := c.deps.Sessions.CheckState(ctx, viewer, session.StateCheckStatus{State: session.StateCheck})
	if err != nil {
		logger.Errorf("initiate state check: %v", err)
		c.setStateCheckOngoing(false)
		return
	}
	if result.CheckStateRequest == nil {
		c.setStateCheckOngoing(false)
		return
	}
	c.queue.AddMessage(wire.NewUnsolicitedRequestsMessage(
		[]wire.ServerRequest{*result.CheckStateRequest}))
}

func (c *Conn) setViewer(viewer *session.Viewer) {
	c.mu.Lock()
	c.viewer = viewer
	c.mu.Unlock()
}

func (c *Conn) getViewer() *session.Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

func (c *Conn) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Conn) markInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

func (c *Conn) initializedViewer() (*session.Viewer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || c.viewer == nil {
		return nil, false
	}
	return c.viewer, true
}

func requestsOrEmpty(requests []wire.ServerRequest) []wire.ServerRequest {
	if requests == nil {
		return []wire.ServerRequest{}
	}
	return requests
}
