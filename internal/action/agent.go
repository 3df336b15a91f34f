package action

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/template"
)

// AgentConfig is the "action" payload for uses=agent: a
// streaming connection to a remote endpoint that narrates its own
// progress as log lines and ends with one status-bearing message.
type AgentConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Payload json.RawMessage   `json:"payload"`
}

// agentMessage is the wire shape of one frame from the remote
// endpoint: either a log line to forward via ctx.EmitLog, or the
// final message carrying the node's outcome.
type agentMessage struct {
	Final   bool           `json:"final"`
	Content string         `json:"content"`
	Status  string         `json:"status"` // succeeded|failed|exception
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error"`
}

// AgentAction opens a streaming connection, forwards log frames into
// the context's log sink, and resolves once the remote side sends its
// final status-bearing frame. Cancellation is honored via
// ctx.WaitShutdown, matching every other suspension point in the
// worker attempt loop.
type AgentAction struct {
	cfg    AgentConfig
	dialer *websocket.Dialer
}

// NewAgentAction validates cfg and builds the action instance.
func NewAgentAction(raw json.RawMessage) (Action, error) {
	var cfg AgentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, domain.NewError(domain.ErrValidation, "agent action requires a non-empty url", nil)
	}
	return &AgentAction{cfg: cfg, dialer: websocket.DefaultDialer}, nil
}

func (a *AgentAction) Kind() domain.ActionKind { return domain.ActionAgent }

func (a *AgentAction) Run(ctx RunContext, nid string) Outcome {
	resolvedURL, err := template.ResolveTemplate(ctx, a.cfg.URL)
	if err != nil {
		return Exception(err.Error())
	}

	header := make(map[string][]string, len(a.cfg.Headers))
	for k, v := range a.cfg.Headers {
		resolvedV, err := template.ResolveTemplate(ctx, v)
		if err != nil {
			return Exception(err.Error())
		}
		header[k] = []string{resolvedV}
	}

	conn, _, err := a.dialer.Dial(resolvedURL, header)
	if err != nil {
		return Failed("agent connection failed: " + err.Error())
	}
	defer conn.Close()

	if len(a.cfg.Payload) > 0 {
		var payloadValue any
		if err := json.Unmarshal(a.cfg.Payload, &payloadValue); err != nil {
			return Exception("invalid agent payload in action config: " + err.Error())
		}
		resolved, err := template.ResolveJSON(ctx, payloadValue)
		if err != nil {
			return Exception(err.Error())
		}
		if err := conn.WriteJSON(resolved); err != nil {
			return Failed("agent payload send failed: " + err.Error())
		}
	}

	type readResult struct {
		msg agentMessage
		err error
	}
	frames := make(chan readResult, 1)

	for {
		go func() {
			var msg agentMessage
			err := conn.ReadJSON(&msg)
			frames <- readResult{msg: msg, err: err}
		}()

		select {
		case <-ctx.WaitShutdown():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return Outcome{Status: domain.Stopped}
		case r := <-frames:
			if r.err != nil {
				return Failed("agent stream read failed: " + r.err.Error())
			}
			if !r.msg.Final {
				if r.msg.Content != "" {
					ctx.EmitLog(nid, r.msg.Content)
				}
				continue
			}
			switch r.msg.Status {
			case "succeeded":
				return Succeeded(r.msg.Outputs)
			case "failed":
				return Failed(r.msg.Error)
			default:
				return Exception(r.msg.Error)
			}
		}
	}
}
