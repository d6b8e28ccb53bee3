package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"github.com/ternarybob/memoria/internal/services/integrity"
	"github.com/ternarybob/memoria/internal/storage/memory"
)

type nullNotifier struct{}

func (nullNotifier) NotifyOnce(condition string, kind interfaces.NotifyKind, title, description string) bool {
	return true
}
func (nullNotifier) ResetCondition(condition string)            {}
func (nullNotifier) Subscribe(handler interfaces.NotifyHandler) {}

func testConfig() Config {
	return Config{
		BudgetFraction: 0.8,
		MaxDocContent:  100,
		MaxMessages:    8,
		MaxDocuments:   2,
		ChunkThreshold: 10000,
		ChunkSize:      1000,
		MinMessages:    2,
	}
}

func newTestService(kv interfaces.KeyValueStorage, cfg Config) *Service {
	logger := arbor.NewLogger()
	return NewService(kv, integrity.NewValidator(logger), nullNotifier{}, logger, cfg)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	svc := newTestService(kv, testConfig())
	defer svc.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := svc.AppendMessage(ctx, "conv-1", models.RoleUser, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
	}

	cctx, err := svc.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cctx.Messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(cctx.Messages))
	}
	for i, msg := range cctx.Messages {
		want := fmt.Sprintf("message %d", i)
		if msg.Content != want {
			t.Errorf("message[%d] = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestContextSurvivesRestart(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	ctx := context.Background()

	svc := newTestService(kv, testConfig())
	if err := svc.AppendMessage(ctx, "conv-1", models.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := svc.AppendMessage(ctx, "conv-1", models.RoleAssistant, "hi there"); err != nil {
		t.Fatal(err)
	}
	svc.Close()

	// A fresh service over the same storage sees the persisted snapshot.
	restarted := newTestService(kv, testConfig())
	defer restarted.Close()
	cctx, err := restarted.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() after restart error = %v", err)
	}
	if len(cctx.Messages) != 2 {
		t.Fatalf("got %d messages after restart, want 2", len(cctx.Messages))
	}
	if cctx.Messages[0].Content != "hello" || cctx.Messages[1].Content != "hi there" {
		t.Errorf("restart lost message order: %+v", cctx.Messages)
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	svc := newTestService(kv, testConfig())
	defer svc.Close()

	_, err := svc.Load(context.Background(), "no-such-conversation")
	if !errors.Is(err, interfaces.ErrContextNotFound) {
		t.Errorf("Load() error = %v, want ErrContextNotFound", err)
	}
}

func TestLargeDocumentStoredChunked(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	cfg := testConfig()
	cfg.ChunkThreshold = 50
	cfg.ChunkSize = 20
	cfg.MaxDocContent = 10000
	svc := newTestService(kv, cfg)
	defer svc.Close()
	ctx := context.Background()

	content := strings.Repeat("abcdefghij", 12) // 120 chars -> 6 chunks
	doc := models.DocumentRecord{ID: "doc-1", Name: "big.txt", Type: "text/plain", Content: content}
	if err := svc.AddDocument(ctx, "conv-1", doc); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}

	// The persisted record holds the placeholder, not the content.
	raw, err := kv.Get(ctx, "context:conv-1")
	if err != nil {
		t.Fatalf("persisted record missing: %v", err)
	}
	var stored models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatal(err)
	}
	if len(stored.Documents) != 1 {
		t.Fatalf("got %d stored documents, want 1", len(stored.Documents))
	}
	if stored.Documents[0].Content != "__CHUNKED__:6" {
		t.Errorf("stored content = %q, want placeholder __CHUNKED__:6", stored.Documents[0].Content)
	}
	for i := 0; i < 6; i++ {
		if _, err := kv.Get(ctx, fmt.Sprintf("chunk:doc-1:%d", i)); err != nil {
			t.Errorf("chunk %d missing: %v", i, err)
		}
	}

	// Load reassembles the full content transparently.
	cctx, err := svc.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cctx.Documents[0].Content != content {
		t.Errorf("reassembled content length %d, want %d", len(cctx.Documents[0].Content), len(content))
	}
}

func TestRemoveDocumentDeletesChunks(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	cfg := testConfig()
	cfg.ChunkThreshold = 50
	cfg.ChunkSize = 20
	svc := newTestService(kv, cfg)
	defer svc.Close()
	ctx := context.Background()

	doc := models.DocumentRecord{ID: "doc-1", Name: "big.txt", Content: strings.Repeat("x", 120)}
	if err := svc.AddDocument(ctx, "conv-1", doc); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveDocument(ctx, "conv-1", "doc-1"); err != nil {
		t.Fatalf("RemoveDocument() error = %v", err)
	}

	keys, err := kv.ListKeys(ctx, "chunk:doc-1:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("found %d orphaned chunk keys after removal", len(keys))
	}

	cctx, err := svc.Load(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cctx.Documents) != 0 {
		t.Errorf("document still attached after removal")
	}
}

func TestMissingChunkKeepsPlaceholder(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 0)
	cfg := testConfig()
	cfg.ChunkThreshold = 50
	cfg.ChunkSize = 20
	svc := newTestService(kv, cfg)
	ctx := context.Background()

	doc := models.DocumentRecord{ID: "doc-1", Name: "big.txt", Content: strings.Repeat("x", 120)}
	if err := svc.AddDocument(ctx, "conv-1", doc); err != nil {
		t.Fatal(err)
	}
	svc.Close()

	// Simulate partial data loss, then read through a fresh service.
	if err := kv.Delete(ctx, "chunk:doc-1:2"); err != nil {
		t.Fatal(err)
	}
	restarted := newTestService(kv, cfg)
	defer restarted.Close()

	cctx, err := restarted.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// The unresolvable document keeps its placeholder; it is never silently
	// dropped or partially assembled.
	if !cctx.Documents[0].IsChunked() {
		t.Errorf("document content = %q, want untouched placeholder", cctx.Documents[0].Content)
	}
}

func TestOversizeDocumentTruncatedInSnapshot(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 4000)
	svc := newTestService(kv, testConfig())
	defer svc.Close()
	ctx := context.Background()

	content := strings.Repeat("y", 5000)
	doc := models.DocumentRecord{ID: "doc-1", Name: "notes.txt", Content: content}
	if err := svc.AddDocument(ctx, "conv-1", doc); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}

	// The in-memory context keeps full fidelity.
	cctx, err := svc.Load(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cctx.Documents[0].Content) != 5000 {
		t.Errorf("in-memory content length = %d, want 5000", len(cctx.Documents[0].Content))
	}

	// The persisted snapshot is truncated to fit the budget.
	raw, err := kv.Get(ctx, "context:conv-1")
	if err != nil {
		t.Fatalf("persisted record missing: %v", err)
	}
	var stored models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatal(err)
	}
	got := stored.Documents[0].Content
	if !strings.HasSuffix(got, models.TruncationMarker) {
		t.Errorf("stored content does not end with the truncation marker: %q", got[len(got)-30:])
	}
	if len(got) > 150 {
		t.Errorf("stored content length = %d, want truncated to ~%d", len(got), testConfig().MaxDocContent)
	}
	// Integrity metadata still records the original length, so the validator
	// can flag the truncation for recovery.
	if stored.Documents[0].Integrity.OriginalLength != 5000 {
		t.Errorf("stored original length = %d, want 5000", stored.Documents[0].Integrity.OriginalLength)
	}
}

func TestOldMessagesPrunedFromSnapshot(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 2000)
	cfg := testConfig()
	cfg.MaxMessages = 5
	svc := newTestService(kv, cfg)
	defer svc.Close()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := svc.AppendMessage(ctx, "conv-1", models.RoleUser, fmt.Sprintf("turn %02d %s", i, strings.Repeat("z", 60))); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
	}

	// In memory: all 20 turns.
	cctx, err := svc.Load(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cctx.Messages) != 20 {
		t.Errorf("in-memory messages = %d, want 20", len(cctx.Messages))
	}

	// Persisted: only the most recent turns, still in order.
	raw, err := kv.Get(ctx, "context:conv-1")
	if err != nil {
		t.Fatal(err)
	}
	var stored models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 5 {
		t.Fatalf("stored messages = %d, want 5", len(stored.Messages))
	}
	if !strings.HasPrefix(stored.Messages[0].Content, "turn 15") {
		t.Errorf("stored messages start at %q, want the 5 most recent", stored.Messages[0].Content)
	}
	if !strings.HasPrefix(stored.Messages[4].Content, "turn 19") {
		t.Errorf("stored messages end at %q, want the newest turn", stored.Messages[4].Content)
	}
}

func TestMinimalContextWhenQuotaExhausted(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 1000)
	svc := newTestService(kv, testConfig())
	defer svc.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		// Errors are acceptable here; the ladder may not fit every turn.
		_ = svc.AppendMessage(ctx, "conv-1", models.RoleUser, fmt.Sprintf("turn %d %s", i, strings.Repeat("w", 200)))
	}

	raw, err := kv.Get(ctx, "context:conv-1")
	if err != nil {
		t.Fatalf("no snapshot persisted at all: %v", err)
	}
	var stored models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatal(err)
	}

	// The minimal context leads with a synthetic system message so the
	// reduction is visible, followed by the most recent turns.
	if stored.Messages[0].Role != models.RoleSystem {
		t.Errorf("first stored message role = %q, want system", stored.Messages[0].Role)
	}
	if len(stored.Messages) > 1+testConfig().MinMessages {
		t.Errorf("stored messages = %d, want at most %d", len(stored.Messages), 1+testConfig().MinMessages)
	}
	if len(stored.Documents) != 0 {
		t.Errorf("minimal context kept %d documents, want 0", len(stored.Documents))
	}
}

func TestEmergencySweepEvictsOtherConversationsOnly(t *testing.T) {
	kv := memory.NewKVStorage(arbor.NewLogger(), 800)
	svc := newTestService(kv, testConfig())
	defer svc.Close()
	ctx := context.Background()

	// An older conversation occupies most of the quota.
	for i := 0; i < 3; i++ {
		_ = svc.AppendMessage(ctx, "conv-old", models.RoleUser, fmt.Sprintf("old %d %s", i, strings.Repeat("a", 120)))
	}
	if _, err := kv.Get(ctx, "context:conv-old"); err != nil {
		t.Fatalf("old conversation was not persisted: %v", err)
	}

	// The active conversation cannot fit even a minimal context until the
	// old record is swept.
	err := svc.AppendMessage(ctx, "conv-active", models.RoleUser, strings.Repeat("b", 300))
	if err != nil {
		t.Fatalf("AppendMessage() error = %v, want sweep to make room", err)
	}

	if _, err := kv.Get(ctx, "context:conv-active"); err != nil {
		t.Errorf("active conversation record missing after sweep: %v", err)
	}
	if _, err := kv.Get(ctx, "context:conv-old"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("old conversation should have been evicted, got err = %v", err)
	}
}
