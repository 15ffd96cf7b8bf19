package turn

import (
	"context"
	"strings"
	"time"
)

// MergeInterrupted returns the text a new message answers when it interrupts
// the in-flight message: the new text alone when it extends the in-flight
// text, both texts joined by a space otherwise.
func MergeInterrupted(inFlight, next string) string {
	if strings.HasPrefix(next, inFlight) {
		return next
	}
	return inFlight + " " + next
}

// interrupt resolves the in-flight turn of the conversation before the turn
// messageID starts. It returns the text the new turn answers and whether an
// in-flight turn was interrupted.
func (c *Coordinator) interrupt(ctx context.Context, taskID, stateID string, st *ConversationState, messageID, text string) (string, bool, error) {
	info := st.ProcessingInfo
	if info == nil {
		return text, false, nil
	}
	if age := info.Age(c.now()); age > c.processingTimeout {
		c.logger.Warn(ctx, "ignoring stale processing info", "task_id", taskID, "message_id", info.MessageID, "age", age.String())
		return text, false, nil
	}
	if info.Interrupted {
		c.logger.Info(ctx, "in-flight turn already interrupted", "task_id", taskID, "message_id", info.MessageID, "interrupted_by", info.InterruptedBy)
		return text, false, nil
	}

	merged := MergeInterrupted(info.MessageContent, text)
	info.Interrupted = true
	info.InterruptedBy = messageID
	if err := c.persist(ctx, taskID, stateID, st); err != nil {
		return "", false, err
	}
	c.logger.Info(ctx, "interrupting in-flight turn", "task_id", taskID, "message_id", info.MessageID, "interrupted_by", messageID)
	if err := c.waitForClear(ctx, taskID, info.MessageID); err != nil {
		return "", false, err
	}
	return merged, true, nil
}

// waitForClear polls the state until the turn inFlightID is no longer
// processing. It gives up silently after the interrupt wait.
func (c *Coordinator) waitForClear(ctx context.Context, taskID, inFlightID string) error {
	deadline := time.NewTimer(c.interruptWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		info, err := c.processingInfo(ctx, taskID)
		switch {
		case err != nil:
			c.logger.Debug(ctx, "failed to read processing info", "task_id", taskID, "err", err)
		case info == nil || info.MessageID != inFlightID:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			c.logger.Warn(ctx, "interrupted turn did not stop in time, proceeding", "task_id", taskID, "message_id", inFlightID)
			return nil
		case <-ticker.C:
		}
	}
}

// interrupted reports whether a newer message interrupted the turn
// messageID.
func (c *Coordinator) interrupted(ctx context.Context, taskID, messageID string) bool {
	info, err := c.processingInfo(ctx, taskID)
	if err != nil {
		c.logger.Debug(ctx, "failed to read processing info", "task_id", taskID, "err", err)
		return false
	}
	return info != nil && info.Interrupted && info.MessageID == messageID
}

// clearProcessing removes the processing info of the turn messageID. The
// processing info of another turn is left untouched.
func (c *Coordinator) clearProcessing(ctx context.Context, taskID, stateID, messageID string) {
	if stateID == "" {
		return
	}
	rec, err := c.store.Get(ctx, taskID, c.agentID)
	if err != nil {
		c.logger.Warn(ctx, "failed to clear processing info", "task_id", taskID, "err", err)
		return
	}
	st, err := DecodeState(rec.Data)
	if err != nil {
		c.logger.Warn(ctx, "failed to clear processing info", "task_id", taskID, "err", err)
		return
	}
	if st.ProcessingInfo == nil || st.ProcessingInfo.MessageID != messageID {
		return
	}
	st.ProcessingInfo = nil
	if err := c.persist(ctx, taskID, rec.ID, st); err != nil {
		c.logger.Warn(ctx, "failed to clear processing info", "task_id", taskID, "err", err)
	}
}
