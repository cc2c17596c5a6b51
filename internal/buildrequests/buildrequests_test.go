package buildrequests

import (
	"testing"
	"time"

	"github.com/zulandar/buildyard/internal/db"
	"github.com/zulandar/buildyard/internal/models"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
	"github.com/zulandar/buildyard/internal/resultspec"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var submitted = time.Unix(1341700729, 0).UTC()

// testDB creates an in-memory SQLite database with all required tables.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

// seedRequests installs buildset 72 with three pending build requests.
func seedRequests(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	rows := []any{
		&models.Builder{ID: 42, Name: "bldr1"},
		&models.Master{ID: 7, Name: "master-1", Active: true, LastActive: submitted},
		&models.Buildset{ID: 72, SubmittedAt: submitted},
		&models.BuildRequest{ID: 42, BuildsetID: 72, BuilderID: 42, SubmittedAt: submitted, Results: results.Unset},
		&models.BuildRequest{ID: 43, BuildsetID: 72, BuilderID: 42, SubmittedAt: submitted, Results: results.Unset},
		&models.BuildRequest{ID: 44, BuildsetID: 72, BuilderID: 42, SubmittedAt: submitted, Results: results.Unset},
	}
	for _, row := range rows {
		if err := gdb.Create(row).Error; err != nil {
			t.Fatalf("insert %T: %v", row, err)
		}
	}
}

func newService(t *testing.T, gdb *gorm.DB, bus *mq.Bus) *Service {
	t.Helper()
	svc := New(gdb, bus)
	svc.Now = func() time.Time { return submitted.Add(time.Hour) }
	return svc
}

func drain(sub *mq.Subscription) []mq.Message {
	var out []mq.Message
	for {
		select {
		case m := <-sub.C:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestGet(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	svc := newService(t, gdb, mq.New())

	br, err := svc.Get(43)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if br == nil || br.BuildRequestID != 43 || br.BuildsetID != 72 || br.BuilderID != 42 {
		t.Errorf("Get(43) = %+v", br)
	}
	if br.Complete || br.Results != results.Unset {
		t.Errorf("pending request carries completion state: %+v", br)
	}

	// Absent is nil, not an error.
	br, err = svc.Get(999)
	if err != nil {
		t.Fatalf("Get(999): %v", err)
	}
	if br != nil {
		t.Errorf("Get(999) = %+v, want nil", br)
	}
}

func TestComplete(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	bus := mq.New()
	sub := bus.Subscribe("#")
	defer sub.Cancel()
	svc := newService(t, gdb, bus)

	if err := svc.Complete([]int64{42, 43}, results.Failure); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var br models.BuildRequest
	if err := gdb.First(&br, 42).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !br.Complete || br.Results != results.Failure || br.CompleteAt == nil {
		t.Errorf("completed request = %+v", br)
	}

	// Two topics per completed request.
	msgs := drain(sub)
	if len(msgs) != 4 {
		t.Fatalf("published %d messages, want 4", len(msgs))
	}
	topics := map[string]bool{}
	for _, m := range msgs {
		topics[m.Topic] = true
	}
	for _, want := range []string{
		"buildrequests/42/complete",
		"builders/42/buildrequests/42/complete",
		"buildrequests/43/complete",
		"builders/42/buildrequests/43/complete",
	} {
		if !topics[want] {
			t.Errorf("topic %q never published", want)
		}
	}

	// Sibling 44 stays pending.
	if err := gdb.First(&br, 44).Error; err != nil {
		t.Fatalf("reload 44: %v", err)
	}
	if br.Complete {
		t.Error("completing 42/43 also completed 44")
	}
}

func TestComplete_AlreadyCompleteRollsBack(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	bus := mq.New()
	sub := bus.Subscribe("#")
	defer sub.Cancel()
	svc := newService(t, gdb, bus)

	if err := svc.Complete([]int64{43}, results.Success); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	drain(sub)

	// 42 is completable but 43 is already done: the whole call must fail
	// and 42 must stay pending.
	if err := svc.Complete([]int64{42, 43}, results.Success); err == nil {
		t.Fatal("Complete with already-complete request succeeded")
	}
	var br models.BuildRequest
	if err := gdb.First(&br, 42).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if br.Complete {
		t.Error("failed Complete left partial state")
	}
	if msgs := drain(sub); len(msgs) != 0 {
		t.Errorf("published %d messages on failed call, want 0", len(msgs))
	}
}

func TestComplete_InvalidResult(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	svc := newService(t, gdb, mq.New())

	if err := svc.Complete([]int64{42}, results.Unset); err == nil {
		t.Fatal("Complete with unset sentinel succeeded")
	}
	if err := svc.Complete([]int64{42}, 99); err == nil {
		t.Fatal("Complete with unknown code succeeded")
	}
}

func TestClaimUnclaim(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	bus := mq.New()
	sub := bus.Subscribe("buildrequests/#")
	defer sub.Cancel()
	svc := newService(t, gdb, bus)

	if err := svc.Claim([]int64{42, 43}, 7); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	var br models.BuildRequest
	if err := gdb.First(&br, 42).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !br.Claimed || br.ClaimedAt == nil || br.ClaimedByMasterID == nil || *br.ClaimedByMasterID != 7 {
		t.Errorf("claimed request = %+v", br)
	}

	// Claiming an already-claimed request fails whole.
	if err := svc.Claim([]int64{43, 44}, 7); err == nil {
		t.Fatal("second Claim on 43 succeeded")
	}
	if err := gdb.First(&br, 44).Error; err != nil {
		t.Fatalf("reload 44: %v", err)
	}
	if br.Claimed {
		t.Error("failed Claim left partial state")
	}

	if err := svc.Unclaim([]int64{42, 43}); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if err := gdb.First(&br, 42).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if br.Claimed || br.ClaimedAt != nil || br.ClaimedByMasterID != nil {
		t.Errorf("unclaimed request = %+v", br)
	}

	msgs := drain(sub)
	var claimed, unclaimed int
	for _, m := range msgs {
		switch {
		case m.Topic == "buildrequests/42/claimed" || m.Topic == "buildrequests/43/claimed":
			claimed++
		case m.Topic == "buildrequests/42/unclaimed" || m.Topic == "buildrequests/43/unclaimed":
			unclaimed++
		}
	}
	if claimed != 2 || unclaimed != 2 {
		t.Errorf("claimed/unclaimed messages = %d/%d, want 2/2", claimed, unclaimed)
	}
}

func TestList_FilterByBuildset(t *testing.T) {
	gdb := testDB(t)
	seedRequests(t, gdb)
	if err := gdb.Create(&models.Buildset{ID: 73, SubmittedAt: submitted}).Error; err != nil {
		t.Fatalf("insert buildset 73: %v", err)
	}
	if err := gdb.Create(&models.BuildRequest{
		ID: 45, BuildsetID: 73, BuilderID: 42, SubmittedAt: submitted, Results: results.Unset,
	}).Error; err != nil {
		t.Fatalf("insert request 45: %v", err)
	}
	svc := newService(t, gdb, mq.New())

	brs, err := svc.List(&resultspec.Spec{
		Filters: []resultspec.Filter{{Field: "buildsetid", Op: resultspec.OpEq, Values: []any{72}}},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(brs) != 3 {
		t.Fatalf("List by buildset = %d requests, want 3", len(brs))
	}
	for i, want := range []int64{42, 43, 44} {
		if brs[i].BuildRequestID != want {
			t.Errorf("request[%d] = %d, want %d", i, brs[i].BuildRequestID, want)
		}
	}
}

func TestFromModel_Properties(t *testing.T) {
	props := `{"owner":"alice","try":true}`
	br := &models.BuildRequest{ID: 1, BuildsetID: 2, BuilderID: 3, Properties: &props}

	rep := FromModel(br)
	if rep.Properties == nil {
		t.Fatal("properties not decoded")
	}
	if rep.Properties["owner"] != "alice" || rep.Properties["try"] != true {
		t.Errorf("properties = %v", rep.Properties)
	}

	rep = FromModel(&models.BuildRequest{ID: 1})
	if rep.Properties != nil {
		t.Errorf("nil properties decoded to %v", rep.Properties)
	}
}
