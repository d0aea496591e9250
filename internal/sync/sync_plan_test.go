package sync

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timewsync/timewsync/internal/artifact"
)

func loc(id, sum string, size int64) *artifact.Local {
	return &artifact.Local{ID: id, Path: "/data/" + id, Fingerprint: sum, Size: size}
}

func rem(id, sum string, size int64) *artifact.Remote {
	return &artifact.Remote{ID: id, Fingerprint: sum, Size: size}
}

type planStep struct {
	op OpType
	id string
}

func steps(p *SyncPlan) []planStep {
	var out []planStep
	for _, a := range p.Actions() {
		out = append(out, planStep{a.Op, a.ID})
	}
	return out
}

func TestComputePlan(t *testing.T) {
	mtime := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		local  []*artifact.Local
		remote []*artifact.Remote
		opts   PlanOptions
		want   []planStep
	}{
		{
			name:   "upload, download and unchanged",
			local:  []*artifact.Local{loc("A", "1", 1), loc("B", "2", 1)},
			remote: []*artifact.Remote{rem("B", "2", 1), rem("C", "3", 1)},
			want:   []planStep{{OpUpload, "A"}, {OpDownload, "C"}, {OpNoOp, "B"}},
		},
		{
			name:   "differing fingerprints conflict",
			local:  []*artifact.Local{loc("A", "1", 1)},
			remote: []*artifact.Remote{rem("A", "9", 1)},
			want:   []planStep{{OpConflict, "A"}},
		},
		{
			name:   "empty remote uploads everything",
			local:  []*artifact.Local{loc("b", "2", 1), loc("a", "1", 1)},
			remote: nil,
			want:   []planStep{{OpUpload, "a"}, {OpUpload, "b"}},
		},
		{
			name:  "empty both",
			local: nil, remote: nil,
			want: nil,
		},
		{
			name:   "transfers interleave by id, then conflicts, then no-ops",
			local:  []*artifact.Local{loc("d", "1", 1), loc("b", "1", 1), loc("x", "1", 1), loc("c", "1", 1)},
			remote: []*artifact.Remote{rem("a", "1", 1), rem("e", "1", 1), rem("x", "2", 1), rem("c", "1", 1)},
			want: []planStep{
				{OpDownload, "a"}, {OpUpload, "b"}, {OpUpload, "d"}, {OpDownload, "e"},
				{OpConflict, "x"},
				{OpNoOp, "c"},
			},
		},
		{
			name:   "no remote fingerprint, equal sizes",
			local:  []*artifact.Local{loc("A", "1", 10)},
			remote: []*artifact.Remote{rem("A", "", 10)},
			want:   []planStep{{OpNoOp, "A"}},
		},
		{
			name:   "no remote fingerprint, different sizes",
			local:  []*artifact.Local{loc("A", "1", 10)},
			remote: []*artifact.Remote{rem("A", "", 11)},
			want:   []planStep{{OpConflict, "A"}},
		},
		{
			name:   "no remote fingerprint, unknown size",
			local:  []*artifact.Local{loc("A", "1", 10)},
			remote: []*artifact.Remote{rem("A", "", artifact.UnknownSize)},
			want:   []planStep{{OpConflict, "A"}},
		},
		{
			name:   "equal fingerprints win over metadata",
			local:  []*artifact.Local{{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime}},
			remote: []*artifact.Remote{{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime.Add(time.Hour)}},
			opts:   PlanOptions{CompareModTime: true},
			want:   []planStep{{OpNoOp, "A"}},
		},
		{
			name:   "mod time compared when enabled",
			local:  []*artifact.Local{{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime}},
			remote: []*artifact.Remote{{ID: "A", Size: 10, ModTime: mtime.Add(time.Hour)}},
			opts:   PlanOptions{CompareModTime: true, ModTimeTolerance: time.Minute},
			want:   []planStep{{OpConflict, "A"}},
		},
		{
			name:   "mod time within tolerance",
			local:  []*artifact.Local{{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime}},
			remote: []*artifact.Remote{{ID: "A", Size: 10, ModTime: mtime.Add(30 * time.Second)}},
			opts:   PlanOptions{CompareModTime: true, ModTimeTolerance: time.Minute},
			want:   []planStep{{OpNoOp, "A"}},
		},
		{
			name:   "mod time ignored by default",
			local:  []*artifact.Local{{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime}},
			remote: []*artifact.Remote{{ID: "A", Size: 10, ModTime: mtime.Add(time.Hour)}},
			want:   []planStep{{OpNoOp, "A"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := ComputePlan(tc.local, tc.remote, tc.opts)
			assert.Equal(t, tc.want, steps(plan))
		})
	}
}

func TestComputePlan_NoOpDetail(t *testing.T) {
	mtime := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	local := &artifact.Local{ID: "A", Fingerprint: "1", Size: 10, ModTime: mtime}

	tests := []struct {
		name   string
		remote *artifact.Remote
		opts   PlanOptions
		want   string
	}{
		{"fingerprints", &artifact.Remote{ID: "A", Fingerprint: "1", Size: 10}, PlanOptions{}, DetailFingerprints},
		{"size only", &artifact.Remote{ID: "A", Size: 10, ModTime: mtime}, PlanOptions{}, DetailSizes},
		{
			"size and time",
			&artifact.Remote{ID: "A", Size: 10, ModTime: mtime.Add(time.Second)},
			PlanOptions{CompareModTime: true, ModTimeTolerance: 2 * time.Second},
			DetailSizesAndTimes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ComputePlan([]*artifact.Local{local}, []*artifact.Remote{tt.remote}, tt.opts)
			a, ok := plan.Get("A")
			require.True(t, ok)
			assert.Equal(t, OpNoOp, a.Op)
			assert.Equal(t, tt.want, a.Detail)
		})
	}
}

func TestComputePlan_ConflictDetail(t *testing.T) {
	plan := ComputePlan(
		[]*artifact.Local{loc("A", "1", 1), loc("B", "1", 1)},
		[]*artifact.Remote{rem("A", "2", 1), rem("B", "", 2)},
		PlanOptions{},
	)

	a, ok := plan.Get("A")
	require.True(t, ok)
	assert.Equal(t, DetailFingerprintDiff, a.Detail)
	assert.NotNil(t, a.Local)
	assert.NotNil(t, a.Remote)

	b, _ := plan.Get("B")
	assert.Equal(t, DetailSizeDiff, b.Detail)
	assert.Len(t, plan.Conflicts(), 2)
}

func TestSyncPlan_IsImmutable(t *testing.T) {
	local := []*artifact.Local{loc("A", "1", 1)}
	plan := ComputePlan(local, nil, PlanOptions{})

	// neither the inputs nor returned copies reach into the plan
	local[0].Fingerprint = "changed"
	actions := plan.Actions()
	actions[0].Op = OpConflict
	actions[0].Local.Size = 99

	a, _ := plan.Get("A")
	assert.Equal(t, OpUpload, a.Op)
	assert.Equal(t, "1", a.Local.Fingerprint)
	assert.EqualValues(t, 1, a.Local.Size)
}

// randomSets builds overlapping local and remote sets. Shared ids get the
// same or a different fingerprint at random.
func randomSets(r *rand.Rand) ([]*artifact.Local, []*artifact.Remote) {
	var local []*artifact.Local
	var remote []*artifact.Remote
	n := r.Intn(40)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%04d.data", r.Intn(60))
		sum := fmt.Sprintf("%d", r.Intn(3))
		switch r.Intn(3) {
		case 0:
			local = append(local, loc(id, sum, 1))
		case 1:
			remote = append(remote, rem(id, sum, 1))
		default:
			local = append(local, loc(id, sum, 1))
			remote = append(remote, rem(id, fmt.Sprintf("%d", r.Intn(3)), 1))
		}
	}
	return dedupLocal(local), dedupRemote(remote)
}

func dedupLocal(in []*artifact.Local) []*artifact.Local {
	seen := map[string]bool{}
	var out []*artifact.Local
	for _, l := range in {
		if !seen[l.ID] {
			seen[l.ID] = true
			out = append(out, l)
		}
	}
	return out
}

func dedupRemote(in []*artifact.Remote) []*artifact.Remote {
	seen := map[string]bool{}
	var out []*artifact.Remote
	for _, r := range in {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

func TestComputePlan_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		local, remote := randomSets(r)
		plan := ComputePlan(local, remote, PlanOptions{})

		localByID := map[string]*artifact.Local{}
		for _, l := range local {
			localByID[l.ID] = l
		}
		remoteByID := map[string]*artifact.Remote{}
		for _, rm := range remote {
			remoteByID[rm.ID] = rm
		}

		// every id exactly once
		seen := map[string]int{}
		for _, a := range plan.Actions() {
			seen[a.ID]++
		}
		for id := range localByID {
			require.Equal(t, 1, seen[id], "local id %s", id)
		}
		for id := range remoteByID {
			require.Equal(t, 1, seen[id], "remote id %s", id)
		}
		require.Len(t, seen, plan.Len())

		for _, a := range plan.Actions() {
			l, inLocal := localByID[a.ID]
			rm, inRemote := remoteByID[a.ID]
			switch {
			case inLocal && !inRemote:
				require.Equal(t, OpUpload, a.Op)
			case inRemote && !inLocal:
				require.Equal(t, OpDownload, a.Op)
			case l.Fingerprint != rm.Fingerprint:
				require.Equal(t, OpConflict, a.Op, "differing fingerprints for %s", a.ID)
			default:
				require.Equal(t, OpNoOp, a.Op)
			}
		}

		// ordering: transfers, conflicts, no-ops, each ascending
		actions := plan.Actions()
		rank := func(op OpType) int {
			switch op {
			case OpConflict:
				return 1
			case OpNoOp:
				return 2
			default:
				return 0
			}
		}
		for j := 1; j < len(actions); j++ {
			prev, cur := actions[j-1], actions[j]
			if rank(prev.Op) == rank(cur.Op) {
				require.Less(t, prev.ID, cur.ID)
			} else {
				require.Less(t, rank(prev.Op), rank(cur.Op))
			}
		}
	}
}

func TestComputePlan_IdenticalSetsAreAllNoOp(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		local, _ := randomSets(r)
		remote := make([]*artifact.Remote, 0, len(local))
		for _, l := range local {
			remote = append(remote, rem(l.ID, l.Fingerprint, l.Size))
		}

		plan := ComputePlan(local, remote, PlanOptions{})
		assert.Equal(t, len(local), plan.Count(OpNoOp))
		assert.Equal(t, plan.Len(), plan.Count(OpNoOp))
	}
}

func TestResolvePlan(t *testing.T) {
	plan := ComputePlan(
		[]*artifact.Local{loc("a", "1", 1), loc("b", "1", 1), loc("c", "1", 1)},
		[]*artifact.Remote{rem("a", "2", 1), rem("b", "1", 1), rem("c", "3", 1)},
		PlanOptions{},
	)

	resolved, skipped := resolvePlan(plan, KeepRemote, []string{"c", "b", "nope", "a", "c"})
	assert.Equal(t, []planStep{{OpDownload, "a"}, {OpDownload, "c"}}, steps(resolved))
	require.Len(t, skipped, 2)
	assert.Equal(t, ReasonNotInConflict, skipped[0].Reason)
	assert.Equal(t, "b", skipped[0].ID)
	assert.Equal(t, ReasonUnknownID, skipped[1].Reason)

	// the source plan is untouched
	assert.Equal(t, 2, plan.Count(OpConflict))
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"sync", "upload", "download"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(m))
	}
	_, err := ParseMode("resolve")
	assert.Error(t, err)

	assert.True(t, ModeUpload.allows(OpUpload))
	assert.False(t, ModeUpload.allows(OpDownload))
	assert.False(t, ModeSync.allows(OpConflict))
}
