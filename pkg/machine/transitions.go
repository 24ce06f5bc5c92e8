package machine

import (
    "fmt"
    "time"

    validation "github.com/go-ozzo/ozzo-validation/v4"

    "github.com/amirimatin/go-topics/pkg/config"
    "github.com/amirimatin/go-topics/pkg/topic"
    "github.com/amirimatin/go-topics/pkg/topic/runninghash"
)

// The functions in this file are pure: they take a topic value and return a
// new one, leaving persistence to the machine.

func keyRule(v any) error {
    k, _ := v.(*topic.Key)
    if k == nil { return nil }
    return k.Validate()
}

func memoRule(max int) validation.RuleFunc {
    return func(v any) error {
        m, _ := v.(*string)
        if m != nil && len(*m) > max { return fmt.Errorf("longer than %d bytes", max) }
        return nil
    }
}

func accountRule(exists func(topic.AccountID) bool) validation.RuleFunc {
    return func(v any) error {
        a, _ := v.(*topic.AccountID)
        if a != nil && exists != nil && !exists(*a) { return fmt.Errorf("account %s not found", a) }
        return nil
    }
}

func invalidConfig(err error) error {
    if err == nil { return nil }
    return fmt.Errorf("%w: %v", topic.ErrInvalidConfiguration, err)
}

// validateTopic checks the configurable fields of a topic as it would be
// after a create or update.
func validateTopic(st topic.State, l config.Limits, exists func(topic.AccountID) bool) error {
    return invalidConfig(validation.ValidateStruct(&st,
        validation.Field(&st.Memo, validation.By(memoRule(l.MaxMemoBytes))),
        validation.Field(&st.AdminKey, validation.By(keyRule)),
        validation.Field(&st.SubmitKey, validation.By(keyRule)),
        validation.Field(&st.AutoRenewSeconds,
            validation.Required,
            validation.Min(l.MinAutoRenewSeconds).Error(fmt.Sprintf("must be at least %d", l.MinAutoRenewSeconds)),
            validation.Max(l.MaxAutoRenewSeconds).Error(fmt.Sprintf("must be at most %d", l.MaxAutoRenewSeconds))),
        validation.Field(&st.AutoRenewAccount, validation.By(accountRule(exists))),
    ))
}

// newTopic builds the initial state of a topic created at ts.
func newTopic(id topic.ID, b CreateTopicBody, ts time.Time) topic.State {
    st := topic.State{
        ID:               id,
        Memo:             b.Memo,
        AdminKey:         b.AdminKey,
        SubmitKey:        b.SubmitKey,
        AutoRenewSeconds: b.AutoRenewSeconds,
        AutoRenewAccount: b.AutoRenewAccount,
        Expiration:       ts.Add(time.Duration(b.AutoRenewSeconds) * time.Second),
        RunningHash:      runninghash.Genesis(id, ts),
        CreatedAt:        ts,
    }
    return st.Clone()
}

// applyUpdate returns st with the fields of b applied. Expiration may only
// move forward and never further than MaxAutoRenewSeconds past ts.
func applyUpdate(st topic.State, b UpdateTopicBody, ts time.Time, l config.Limits) (topic.State, error) {
    out := st.Clone()
    if b.Memo != nil { m := *b.Memo; out.Memo = &m }
    if b.AdminKey != nil { k := b.AdminKey.Clone(); out.AdminKey = &k }
    if b.ClearAdminKey { out.AdminKey = nil }
    if b.SubmitKey != nil { k := b.SubmitKey.Clone(); out.SubmitKey = &k }
    if b.ClearSubmitKey { out.SubmitKey = nil }
    if b.AutoRenewSeconds != nil { out.AutoRenewSeconds = *b.AutoRenewSeconds }
    if b.AutoRenewAccount != nil { a := *b.AutoRenewAccount; out.AutoRenewAccount = &a }
    if b.ClearAutoRenewAccount { out.AutoRenewAccount = nil }
    if b.Expiration != nil {
        exp := b.Expiration.UTC()
        if !exp.After(st.Expiration) {
            return st, fmt.Errorf("%w: expiration %s does not extend %s", topic.ErrInvalidConfiguration,
                exp.Format(time.RFC3339Nano), st.Expiration.Format(time.RFC3339Nano))
        }
        if exp.Sub(ts) > time.Duration(l.MaxAutoRenewSeconds)*time.Second {
            return st, fmt.Errorf("%w: expiration more than %ds ahead of consensus time", topic.ErrInvalidConfiguration, l.MaxAutoRenewSeconds)
        }
        out.Expiration = exp
    }
    return out, nil
}

// appendMessage advances the sequence number and running hash together.
func appendMessage(st topic.State, ts time.Time, payload []byte) topic.State {
    out := st.Clone()
    out.SequenceNumber = st.SequenceNumber + 1
    out.RunningHash = runninghash.Next(st.RunningHash, st.ID, ts, out.SequenceNumber, payload)
    return out
}

func markDeleted(st topic.State) topic.State {
    out := st.Clone()
    out.Deleted = true
    return out
}

// checkPayload rejects empty and oversized messages.
func checkPayload(p []byte, max int) error {
    if len(p) == 0 { return fmt.Errorf("%w: empty message", topic.ErrInvalidTransaction) }
    if len(p) > max { return fmt.Errorf("%w: %d bytes exceeds %d", topic.ErrPayloadTooLarge, len(p), max) }
    return nil
}

// live returns the error for a topic that is absent or deleted.
func live(st topic.State, found bool, id topic.ID) error {
    if !found { return fmt.Errorf("%w: %s", topic.ErrTopicNotFound, id) }
    if st.Deleted { return fmt.Errorf("%w: %s", topic.ErrTopicDeleted, id) }
    return nil
}
