package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/real-rm/livechat/internal/message"
)

// Delivering the same authoritative messages again, in any amount, never
// changes the reconciled list: every redelivery is discarded by id.
func TestProperty_IngestIdempotentUnderRedelivery(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("redelivery never changes the reconciled list", prop.ForAll(
		func(contents []string, redeliveries uint8) bool {
			if len(contents) == 0 {
				return true
			}

			tl := newTestTimeline()
			base := time.Unix(1700000000, 0)
			msgs := make([]*message.Message, len(contents))
			for i, content := range contents {
				msgs[i] = authoritative(fmt.Sprintf("m%d", i), content, message.SenderAgent,
					base.Add(time.Duration(i)*time.Second))
				tl.Ingest(msgs[i])
			}

			want := tl.Messages()

			for r := 0; r < int(redeliveries%5)+1; r++ {
				for _, msg := range msgs {
					if tl.Ingest(msg) != OutcomeDiscarded {
						return false
					}
				}
			}

			got := tl.Messages()
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i].ID != want[i].ID || got[i].Content != want[i].Content {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// A locally-sent message whose echo arrives produces exactly one entry,
// regardless of how the echo and redeliveries interleave with other traffic.
func TestProperty_EchoProducesExactlyOneEntry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("placeholder plus echo collapse to one entry", prop.ForAll(
		func(content string, interleaved []string) bool {
			if content == "" {
				return true
			}

			tl := newTestTimeline()
			fixed := time.Unix(1700000000, 0)
			tl.SetClock(func() time.Time { return fixed })

			tl.AppendLocal(content, nil)
			for i, other := range interleaved {
				tl.Ingest(authoritative(fmt.Sprintf("a%d", i), other, message.SenderAgent, fixed))
			}

			echo := authoritative("echo-1", content, message.SenderCustomer, fixed)
			tl.Ingest(echo)
			// Redelivered echo is a no-op
			tl.Ingest(echo)

			count := 0
			for _, msg := range tl.Messages() {
				if msg.ID == "echo-1" {
					count++
				}
				if msg.IsTemp() {
					// The placeholder must be gone once the echo reconciled it
					return false
				}
			}
			return count == 1
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// Replacing a placeholder preserves the relative order of everything else.
func TestProperty_ReplacePreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("surrounding order survives in-place replacement", prop.ForAll(
		func(before, after uint8) bool {
			tl := newTestTimeline()
			fixed := time.Unix(1700000000, 0)
			tl.SetClock(func() time.Time { return fixed })

			nBefore := int(before % 10)
			nAfter := int(after % 10)

			for i := 0; i < nBefore; i++ {
				tl.Ingest(authoritative(fmt.Sprintf("b%d", i), "before", message.SenderAgent, fixed))
			}
			tl.AppendLocal("mine", nil)
			for i := 0; i < nAfter; i++ {
				tl.Ingest(authoritative(fmt.Sprintf("a%d", i), "after", message.SenderAgent, fixed))
			}

			tl.Ingest(authoritative("mine-1", "mine", message.SenderCustomer, fixed))

			msgs := tl.Messages()
			if len(msgs) != nBefore+1+nAfter {
				return false
			}
			for i := 0; i < nBefore; i++ {
				if msgs[i].ID != fmt.Sprintf("b%d", i) {
					return false
				}
			}
			if msgs[nBefore].ID != "mine-1" {
				return false
			}
			for i := 0; i < nAfter; i++ {
				if msgs[nBefore+1+i].ID != fmt.Sprintf("a%d", i) {
					return false
				}
			}
			return true
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// A history refetch applied in place of live traffic converges to the fetched
// set: same ids in the same order, with any sub-window pending placeholder
// not yet represented re-appended at the end.
func TestProperty_HistoryRefetchConverges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("refetch yields fetched set plus unrepresented pending", prop.ForAll(
		func(fetched []string, pending string) bool {
			tl := newTestTimeline()
			fixed := time.Unix(1700000000, 0)
			tl.SetClock(func() time.Time { return fixed })

			if pending != "" {
				tl.AppendLocal(pending, nil)
			}

			history := make([]*message.Message, len(fetched))
			for i, content := range fetched {
				history[i] = authoritative(fmt.Sprintf("h%d", i), content, message.SenderAgent, fixed)
			}
			tl.ApplyHistory(history)

			msgs := tl.Messages()
			wantLen := len(fetched)
			if pending != "" {
				wantLen++
			}
			if len(msgs) != wantLen {
				return false
			}
			for i := range fetched {
				if msgs[i].ID != fmt.Sprintf("h%d", i) {
					return false
				}
			}
			if pending != "" {
				last := msgs[len(msgs)-1]
				if !last.IsPendingPlaceholder() || last.Content != pending {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		// Content disjoint from the fetched set (fetched messages are agent-sent
		// so they can never represent the placeholder anyway)
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
