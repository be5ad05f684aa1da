package mqtt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// subscription is a recorded topic filter and its requested QoS.
type subscription struct {
	filter string
	qos    byte
}

// Subscribe records a topic filter and, when a session is live, issues it
// to the broker straight away.
//
// Filters may use the + (one level) and # (remaining levels) wildcards,
// e.g. "access/requests/+" or "access/events/#". A recorded filter is
// restored after every reconnect, so a failed live subscribe is reported
// as ErrSubscribeFailed but is not forgotten. Matching messages go to the
// client's InboundHandler.
func (c *Client) Subscribe(filter string, qos byte) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	c.subMu.Lock()
	c.subscriptions[filter] = qos
	c.subMu.Unlock()

	return c.withSession(ErrSubscribeFailed, func(ctx context.Context, sess Session) error {
		return sess.Subscribe(ctx, filter, qos)
	}, func() {
		c.log().Debug("MQTT subscription deferred until connected", "filter", filter)
	})
}

// Unsubscribe forgets a filter and, when a session is live, removes it at
// the broker. The filter must match the one passed to Subscribe exactly.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}

	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()

	return c.withSession(ErrUnsubscribeFailed, func(ctx context.Context, sess Session) error {
		return sess.Unsubscribe(ctx, filter)
	}, nil)
}

// withSession runs op against the live session under the publish timeout
// and wraps any failure in sentinel. With no session it calls offline, if
// set, and returns nil.
func (c *Client) withSession(sentinel error, op func(context.Context, Session) error, offline func()) error {
	sess := c.currentSession()
	if sess == nil {
		if offline != nil {
			offline()
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PublishTimeout)
	defer cancel()

	err := op(ctx, sess)
	if err == nil || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// SubscriptionCount returns the number of recorded filters.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Subscriptions returns the recorded filters in lexical order.
func (c *Client) Subscriptions() []string {
	subs := c.subscriptionSnapshot()
	filters := make([]string, len(subs))
	for i, s := range subs {
		filters[i] = s.filter
	}
	return filters
}

// subscriptionSnapshot copies the recorded filters, sorted by filter so
// restores hit the broker in a stable order.
func (c *Client) subscriptionSnapshot() []subscription {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for filter, qos := range c.subscriptions {
		subs = append(subs, subscription{filter: filter, qos: qos})
	}
	c.subMu.RUnlock()

	slices.SortFunc(subs, func(a, b subscription) int {
		return strings.Compare(a.filter, b.filter)
	})
	return subs
}

// validateFilter applies the MQTT filter rules: non-empty, no NUL, + must
// fill a whole level and # must be the whole last level.
func validateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: filter contains NUL", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, filter)
		case level != "#" && strings.Contains(level, "#"):
			return fmt.Errorf("%w: # must occupy a whole level in %q", ErrInvalidTopic, filter)
		case level != "+" && strings.Contains(level, "+"):
			return fmt.Errorf("%w: + must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
