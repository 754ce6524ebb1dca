package store

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestPushPostID(t *testing.T) {
	t.Parallel()

	t.Run("empty window", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, []string{"p1"}, PushPostID(nil, "p1"))
	})

	t.Run("prepends newest", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, []string{"p3", "p2", "p1"}, PushPostID([]string{"p2", "p1"}, "p3"))
	})

	t.Run("known id unchanged", func(t *testing.T) {
		t.Parallel()
		ids := []string{"p3", "p2", "p1"}
		require.Equal(t, ids, PushPostID(ids, "p2"))
	})

	t.Run("oldest falls off a full window", func(t *testing.T) {
		t.Parallel()
		full := []string{"p7", "p6", "p5", "p4", "p3", "p2", "p1"}
		require.Equal(t,
			[]string{"p8", "p7", "p6", "p5", "p4", "p3", "p2"},
			PushPostID(full, "p8"))
	})
}

func TestPushPostIDProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	idGen := gen.Identifier()
	windowGen := gen.SliceOf(gen.Identifier())

	properties.Property("window never exceeds seven entries", prop.ForAll(
		func(ids []string, id string) bool {
			return len(PushPostID(ids, id)) <= 7
		},
		windowGen, idGen,
	))

	properties.Property("pushed id is always present", prop.ForAll(
		func(ids []string, id string) bool {
			for _, v := range PushPostID(ids, id) {
				if v == id {
					return true
				}
			}
			return false
		},
		windowGen, idGen,
	))

	properties.Property("pushing twice equals pushing once", prop.ForAll(
		func(ids []string, id string) bool {
			once := PushPostID(ids, id)
			twice := PushPostID(once, id)
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i] != twice[i] {
					return false
				}
			}
			return true
		},
		windowGen, idGen,
	))

	properties.Property("a fresh id lands at the front and keeps order", prop.ForAll(
		func(ids []string, id string) bool {
			for _, v := range ids {
				if v == id {
					return true
				}
			}
			out := PushPostID(ids, id)
			if out[0] != id {
				return false
			}
			for i, v := range out[1:] {
				if v != ids[i] {
					return false
				}
			}
			return true
		},
		windowGen, idGen,
	))

	properties.Property("input window is never mutated", prop.ForAll(
		func(ids []string, id string) bool {
			before := append([]string(nil), ids...)
			PushPostID(ids, id)
			for i := range before {
				if ids[i] != before[i] {
					return false
				}
			}
			return true
		},
		windowGen, idGen,
	))

	properties.TestingRun(t)
}

func TestCampaignStatusTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   CampaignStatus
		terminal bool
	}{
		{CampaignDraft, false},
		{CampaignActive, false},
		{CampaignPaused, false},
		{CampaignCompleted, true},
		{CampaignFailed, true},
		{CampaignStopped, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.terminal, tc.status.Terminal())
		})
	}
}
