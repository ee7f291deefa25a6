package orchestrator

import (
	"context"

	"conductor/pkg/proto"
)

// persistTurn hands the turn's writes to the store. Writes are detached from
// the turn's cancellation and never fail the turn. A conversation cleared
// mid-turn writes nothing.
func (o *Orchestrator) persistTurn(ctx context.Context, t *turn, reply proto.Message) {
	t.conv.persist(func() { o.writeTurn(context.WithoutCancel(ctx), t, reply) })
}

func (o *Orchestrator) writeTurn(pctx context.Context, t *turn, reply proto.Message) {
	store := o.opts.Store
	id := t.conv.id

	if t.user.ID != "" {
		o.logStoreErr("append user message", store.AppendMessage(pctx, id, t.user))
	}
	o.logStoreErr("append reply", store.AppendMessage(pctx, id, reply))

	for i := range t.changes {
		change := &t.changes[i]
		if change.Operation == proto.OpDelete {
			o.logStoreErr("delete artifact "+change.Path, store.DeleteArtifact(pctx, id, change.Path))
			continue
		}
		o.logStoreErr("upsert artifact "+change.Path, store.UpsertArtifact(pctx, id, change.Path, change.Content))
	}

	o.logStoreErr("save conversation", store.SaveConversation(pctx, t.conv.snapshot()))
}

// recordFailure appends f to the conversation's error log and persists it.
func (o *Orchestrator) recordFailure(ctx context.Context, c *conversation, planID string, f proto.FailureDetails, attempt int) {
	c.recordFailure(f)
	c.persist(func() {
		o.logStoreErr("record failure", o.opts.Store.RecordFailure(context.WithoutCancel(ctx), c.id, planID, f, attempt))
	})
}

func (o *Orchestrator) logStoreErr(op string, err error) {
	if err != nil {
		o.logger.Warn("Persistence %s failed: %v", op, err)
	}
}
