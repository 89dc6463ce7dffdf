// Package comm is the Communication Observer: a passive read model over
// every agent-to-agent and agent-to-external message the runtime reports,
// classifying traffic by direction (internal/external-outbound/
// external-inbound/escalation) and aggregating it into a topology view.
//
// Grounded on the teacher's internal/federation peer-directory pattern
// (an in-memory map rebuilt from membership events, consulted by a
// classifier function) generalized from cluster peer addresses to an
// agent-id-to-email directory rebuilt from Lifecycle Manager events.
package comm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

// Email tools (§4.10) — send/reply/forward all parse to/cc/bcc and
// classify each recipient against the directory.
const (
	toolEmailSend    = "send"
	toolEmailReply   = "reply"
	toolEmailForward = "forward"
)

// Agent-to-agent tools (§4.10) are always direction=internal — there is no
// directory lookup to fail, the caller and callee are both managed agents
// by construction. claim/complete/submit update the existing handoff
// message (keyed by metadata.taskId) instead of recording a new one.
const (
	toolMessageAgent = "message_agent"
	toolCallAgent    = "call_agent"
	toolCheckTasks   = "check_tasks"
	toolClaimTask    = "claim_task"
	toolCompleteTask = "complete_task"
	toolSubmitResult = "submit_result"
)

func isEmailTool(toolID string) bool {
	return toolID == toolEmailSend || toolID == toolEmailReply || toolID == toolEmailForward
}

func isTaskProgressTool(toolID string) bool {
	switch toolID {
	case toolClaimTask, toolCompleteTask, toolSubmitResult:
		return true
	default:
		return false
	}
}

// externalPrefix marks a synthetic toAgentId as an external counterparty
// (an email address rather than a managed agent id), per model.AgentMessage's
// doc comment.
const externalPrefix = "ext:"

// ringCap bounds how many recent messages GetTopology considers per org,
// matching the §4.10 "last 2000 messages" aggregation window.
const ringCap = 2000

// ToolCallInput is what the runtime reports for a classified tool call.
// To/CC/BCC carry email addresses for the email tools and managed-agent
// ids for the agent-to-agent tools; TaskID identifies the handoff message
// claim_task/complete_task/submit_result progress.
type ToolCallInput struct {
	ToolID   string
	To       []string
	CC       []string
	BCC      []string
	Subject  string
	Content  string
	TaskID   string
	Status   string
	Metadata map[string]interface{}
}

// Observer maintains the agent email directory and records/classifies
// observed messages.
type Observer struct {
	st      *store.Store
	emitter events.EventEmitter

	mu        sync.RWMutex
	emailToID map[string]string // lowercase email -> agentId
	idToEmail map[string]string // agentId -> email
}

// New builds a Communication Observer over st and an event emitter.
func New(st *store.Store, emitter events.EventEmitter) *Observer {
	return &Observer{
		st:        st,
		emitter:   emitter,
		emailToID: make(map[string]string),
		idToEmail: make(map[string]string),
	}
}

// RebuildDirectory loads every agent's email into the in-memory directory
// — called at startup and whenever the Lifecycle Manager emits
// agent.created/agent.destroyed/agent.state_changed for a config update.
func (o *Observer) RebuildDirectory(ctx context.Context, orgID string) error {
	agents, err := o.st.ListAgentsByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range agents {
		if a.Config.Email == "" {
			continue
		}
		email := strings.ToLower(a.Config.Email)
		o.emailToID[email] = a.ID
		o.idToEmail[a.ID] = email
	}
	return nil
}

// RegisterAgent adds a single agent to the directory without a full
// reload, grounded on the teacher's incremental peer-join handler.
func (o *Observer) RegisterAgent(agentID, email string) {
	if email == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	lower := strings.ToLower(email)
	o.emailToID[lower] = agentID
	o.idToEmail[agentID] = lower
}

// UnregisterAgent removes an agent from the directory (on destroy).
func (o *Observer) UnregisterAgent(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if email, ok := o.idToEmail[agentID]; ok {
		delete(o.emailToID, email)
		delete(o.idToEmail, agentID)
	}
}

// resolveAgent returns the managed agent id for an email address, if one
// is registered in the directory.
func (o *Observer) resolveAgent(email string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.emailToID[strings.ToLower(email)]
	return id, ok
}

// ObserveToolCall classifies a reported tool call into the communication
// graph (§4.10). Email tools (send/reply/forward) produce one AgentMessage
// per to/cc/bcc address, classified internal or external-outbound against
// the directory. Agent-to-agent tools are always internal:
// message_agent/call_agent record a new message; check_tasks is a pure
// read and produces nothing; claim_task/complete_task/submit_result update
// the existing handoff message keyed by TaskID instead of creating a new
// one. Any other toolID is ignored — the Observer only projects
// communication traffic.
func (o *Observer) ObserveToolCall(ctx context.Context, orgID, fromAgentID string, in ToolCallInput) ([]*model.AgentMessage, error) {
	switch {
	case isEmailTool(in.ToolID):
		channel := model.ChannelEmail
		var out []*model.AgentMessage
		for _, r := range classifyRecipients(in.To, in.CC, in.BCC) {
			msg, err := o.recordMessage(ctx, orgID, fromAgentID, r.address, channel, in)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
		}
		return out, nil

	case isTaskProgressTool(in.ToolID):
		msg, err := o.progressTask(ctx, orgID, fromAgentID, in)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
		return []*model.AgentMessage{msg}, nil

	case in.ToolID == toolMessageAgent || in.ToolID == toolCallAgent:
		var out []*model.AgentMessage
		for _, to := range in.To {
			msg, err := o.recordAgentMessage(ctx, orgID, fromAgentID, to, in)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
		}
		return out, nil

	case in.ToolID == toolCheckTasks:
		return nil, nil

	default:
		return nil, nil
	}
}

// recordAgentMessage records one internal agent-to-agent message — there
// is no directory lookup to fail since the recipient is already a managed
// agent id.
func (o *Observer) recordAgentMessage(ctx context.Context, orgID, fromAgentID, toAgentID string, in ToolCallInput) (*model.AgentMessage, error) {
	now := time.Now().UTC()
	msg := &model.AgentMessage{
		ID: uuid.NewString(), OrgID: orgID, FromAgentID: fromAgentID, ToAgentID: toAgentID,
		Type: model.MessageDirect, Subject: in.Subject, Content: in.Content, Metadata: in.Metadata,
		Direction: model.DirectionInternal, Channel: model.ChannelDirect, CreatedAt: now, UpdatedAt: now,
	}
	if in.TaskID != "" {
		if msg.Metadata == nil {
			msg.Metadata = map[string]interface{}{}
		}
		msg.Metadata["taskId"] = in.TaskID
		msg.Type = model.MessageTask
		msg.Channel = model.ChannelTask
	}
	if err := o.st.UpsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.emitter.Emit("communication.observed", "communication-observer", msg.ID, map[string]interface{}{
		"orgId": orgID, "fromAgentId": fromAgentID, "toAgentId": toAgentID, "direction": string(msg.Direction),
	})
	return msg, nil
}

// progressTask finds the handoff message claim_task/complete_task/
// submit_result refers to by in.TaskID and updates its status/timestamps,
// falling back to recording a fresh message if none matches (the caller
// claimed a task this Observer never saw created).
func (o *Observer) progressTask(ctx context.Context, orgID, agentID string, in ToolCallInput) (*model.AgentMessage, error) {
	if in.TaskID == "" {
		return nil, nil
	}
	now := time.Now().UTC()
	msg, err := o.st.FindMessageByTaskID(ctx, agentID, in.TaskID)
	if err == store.ErrNotFound {
		msg = &model.AgentMessage{
			ID: uuid.NewString(), OrgID: orgID, FromAgentID: agentID, ToAgentID: agentID,
			Type: model.MessageTask, Channel: model.ChannelTask, Direction: model.DirectionInternal,
			Metadata: map[string]interface{}{"taskId": in.TaskID}, CreatedAt: now,
		}
	} else if err != nil {
		return nil, err
	}

	switch in.ToolID {
	case toolClaimTask:
		msg.ClaimedAt = &now
		msg.Status = "claimed"
	case toolCompleteTask, toolSubmitResult:
		msg.CompletedAt = &now
		msg.Status = "completed"
	}
	if in.Status != "" {
		msg.Status = in.Status
	}
	msg.UpdatedAt = now
	if err := o.st.UpsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.emitter.Emit("communication.observed", "communication-observer", msg.ID, map[string]interface{}{
		"agentId": agentID, "taskId": in.TaskID, "status": msg.Status,
	})
	return msg, nil
}

type recipient struct {
	address string
	isCC    bool
	isBCC   bool
}

func classifyRecipients(to, cc, bcc []string) []recipient {
	var out []recipient
	for _, a := range to {
		out = append(out, recipient{address: a})
	}
	for _, a := range cc {
		out = append(out, recipient{address: a, isCC: true})
	}
	for _, a := range bcc {
		out = append(out, recipient{address: a, isBCC: true})
	}
	return out
}

func (o *Observer) recordMessage(ctx context.Context, orgID, fromAgentID, address string, channel model.MessageChannel, in ToolCallInput) (*model.AgentMessage, error) {
	toAgentID := externalPrefix + address
	direction := model.DirectionExternalOutbound
	if agentID, ok := o.resolveAgent(address); ok {
		toAgentID = agentID
		direction = model.DirectionInternal
	}

	now := time.Now().UTC()
	msg := &model.AgentMessage{
		ID: uuid.NewString(), OrgID: orgID, FromAgentID: fromAgentID, ToAgentID: toAgentID,
		Type: model.MessageDirect, Subject: in.Subject, Content: in.Content, Metadata: in.Metadata,
		Direction: direction, Channel: channel, CreatedAt: now, UpdatedAt: now,
	}
	if err := o.st.UpsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.emitter.Emit("communication.observed", "communication-observer", msg.ID, map[string]interface{}{
		"orgId": orgID, "fromAgentId": fromAgentID, "toAgentId": toAgentID, "direction": string(direction),
	})
	return msg, nil
}

// RecordInboundExternal records an externally-originated message arriving
// for a managed agent (e.g. an inbound email reply), the counterpart of
// ObserveToolCall's outbound path.
func (o *Observer) RecordInboundExternal(ctx context.Context, orgID, toAgentID, fromAddress, subject, content string) (*model.AgentMessage, error) {
	now := time.Now().UTC()
	msg := &model.AgentMessage{
		ID: uuid.NewString(), OrgID: orgID, FromAgentID: externalPrefix + fromAddress, ToAgentID: toAgentID,
		Type: model.MessageDirect, Subject: subject, Content: content,
		Direction: model.DirectionExternalInbound, Channel: model.ChannelEmail,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.st.UpsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.emitter.Emit("communication.observed", "communication-observer", msg.ID, map[string]interface{}{
		"orgId": orgID, "fromAgentId": msg.FromAgentID, "toAgentId": toAgentID, "direction": string(msg.Direction),
	})
	return msg, nil
}

// Topology is the aggregated view GetTopology returns: a node per agent
// and external counterparty, an edge per observed (from, to) pair with a
// message count.
type Topology struct {
	Nodes []TopologyNode `json:"nodes"`
	Edges []TopologyEdge `json:"edges"`
}

// TopologyNode is one participant observed in the message window.
type TopologyNode struct {
	ID       string `json:"id"`
	External bool   `json:"external"`
}

// TopologyEdge aggregates message traffic between two participants.
type TopologyEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// GetTopology aggregates the last ringCap messages for orgID into a node
// and edge list, suitable for a communication graph visualization.
func (o *Observer) GetTopology(ctx context.Context, orgID string) (Topology, error) {
	messages, err := o.st.ListMessagesByOrg(ctx, orgID, "", ringCap)
	if err != nil {
		return Topology{}, err
	}

	nodes := make(map[string]bool)
	edgeCounts := make(map[[2]string]int)
	for _, m := range messages {
		nodes[m.FromAgentID] = strings.HasPrefix(m.FromAgentID, externalPrefix)
		nodes[m.ToAgentID] = strings.HasPrefix(m.ToAgentID, externalPrefix)
		key := [2]string{m.FromAgentID, m.ToAgentID}
		edgeCounts[key]++
	}

	topo := Topology{}
	for id, ext := range nodes {
		topo.Nodes = append(topo.Nodes, TopologyNode{ID: id, External: ext})
	}
	for pair, count := range edgeCounts {
		topo.Edges = append(topo.Edges, TopologyEdge{From: pair[0], To: pair[1], Count: count})
	}
	return topo, nil
}

// ListByAgent returns every message involving agentID, oldest first.
func (o *Observer) ListByAgent(ctx context.Context, agentID string) ([]*model.AgentMessage, error) {
	return o.st.ListMessagesByAgent(ctx, agentID)
}
