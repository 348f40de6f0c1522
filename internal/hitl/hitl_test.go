package hitl

import (
	"strings"
	"testing"
)

func Test_ShouldProceed_Level1AlwaysBlocks(t *testing.T) {
	t.Parallel()
	c := New()
	// Even a fully exempted session cannot run a level 1 operation.
	session := SessionContext{
		AuthorizedOps:       []string{"production_deploy"},
		TaskPackApprovedOps: []string{"production_deploy"},
		UrgentFix:           true,
	}
	ok, reason := c.ShouldProceed("production_deploy", session)
	if ok {
		t.Errorf("level 1 operation allowed: %s", reason)
	}
	if !strings.Contains(reason, "Level 1") {
		t.Errorf("block reason must name the risk tier, got %q", reason)
	}
}

func Test_ShouldProceed_Level1ReasonNamesTier(t *testing.T) {
	t.Parallel()
	c := New()
	ok, reason := c.ShouldProceed("modify_constitution", SessionContext{})
	if ok {
		t.Errorf("modify_constitution allowed: %s", reason)
	}
	if !strings.Contains(reason, "Level 1") {
		t.Errorf("block reason must contain \"Level 1\", got %q", reason)
	}
}

func Test_ShouldProceed_Level2BlocksWithoutExemption(t *testing.T) {
	t.Parallel()
	c := New()
	ok, _ := c.ShouldProceed("create_namespace", SessionContext{})
	if ok {
		t.Error("level 2 operation allowed without exemption")
	}
}

func Test_ShouldProceed_Level2SessionAuthorization(t *testing.T) {
	t.Parallel()
	c := New()
	session := SessionContext{AuthorizedOps: []string{"create_namespace"}}
	ok, _ := c.ShouldProceed("create_namespace", session)
	if !ok {
		t.Error("session-authorized level 2 operation blocked")
	}
}

func Test_ShouldProceed_Level2TaskPackApproval(t *testing.T) {
	t.Parallel()
	c := New()
	session := SessionContext{TaskPackApprovedOps: []string{"batch_ingest_large"}}
	ok, _ := c.ShouldProceed("batch_ingest_large", session)
	if !ok {
		t.Error("task-pack approved level 2 operation blocked")
	}
}

func Test_ShouldProceed_Level2UrgentFix(t *testing.T) {
	t.Parallel()
	c := New()
	session := SessionContext{UrgentFix: true}
	ok, _ := c.ShouldProceed("change_chunking_params", session)
	if !ok {
		t.Error("urgent-fix session blocked on level 2 operation")
	}
}

func Test_ShouldProceed_Level3Proceeds(t *testing.T) {
	t.Parallel()
	c := New()
	ok, _ := c.ShouldProceed("reindex_single_document", SessionContext{})
	if !ok {
		t.Error("level 3 operation blocked")
	}
}

func Test_NewWithOps_OverlapIsLevel1(t *testing.T) {
	t.Parallel()
	c := NewWithOps([]string{"shared_op"}, []string{"shared_op"})
	ok, _ := c.ShouldProceed("shared_op", SessionContext{UrgentFix: true})
	if ok {
		t.Error("operation in both tiers treated as level 2")
	}
}
