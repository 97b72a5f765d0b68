package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gnomeswarm/datastore/appdata"
	"github.com/gnomeswarm/datastore/content"
	"github.com/gnomeswarm/datastore/leaf"
)

func mustLeaf(t *testing.T, b []byte) leaf.Data {
	t.Helper()
	d, err := leaf.New(b)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// sourceContent builds a small Data Content with n pages.
func sourceContent(t *testing.T, n int) content.Content {
	t.Helper()
	c := content.NewData(9)
	for i := 0; i < n; i++ {
		if err := c.PushData(mustLeaf(t, []byte{byte('a' + i)})); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

// fastConfig skips the real pacing delays so tests run instantly.
func fastConfig() Config {
	return Config{StartupDelay: 0, InterFrameDelay: 0}
}

func directSend(recv *Receiver, cid int) Sender {
	return func(ctx context.Context, f Frame) error {
		_, _, _, err := recv.HandleFrame(cid, f)
		return err
	}
}

func TestOriginatorReceiverRoundTripPromotes(t *testing.T) {
	src := sourceContent(t, 3)
	rootHash := src.Hash()
	dataHashes := src.DataHashes()

	ad := appdata.New()
	link := content.Link{
		FounderID:       1,
		SwarmName:       "s",
		LinkedContentID: 0,
		Transform:       content.NewTransformInfo(9, nil, uint16(len(dataHashes)), src.TreeHash(), 5, ""),
	}
	cid, err := ad.Append(content.NewLink(link))
	if err != nil {
		t.Fatal(err)
	}

	recv := NewReceiver(ad)
	orig := NewOriginator(fastConfig())
	if err := orig.Broadcast(context.Background(), 5, src, directSend(recv, cid)); err != nil {
		t.Fatal(err)
	}

	got, err := ad.Peek(cid)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsLink() {
		t.Fatal("expected promotion to Data to have completed")
	}
	if got.Hash() != rootHash {
		t.Fatalf("promoted content hash mismatch: got %x want %x", got.Hash(), rootHash)
	}
}

func TestReceiverAcceptsDuplicateHashGroup(t *testing.T) {
	src := sourceContent(t, 2)
	rootHash := src.TreeHash()
	dataHashes := src.DataHashes()

	ad := appdata.New()
	link := content.Link{
		Transform: content.NewTransformInfo(9, nil, uint16(len(dataHashes)), rootHash, 1, ""),
	}
	cid, err := ad.Append(content.NewLink(link))
	if err != nil {
		t.Fatal(err)
	}
	recv := NewReceiver(ad)

	hashFrame := Frame{CastID: 1, IsHash: true, PartNo: 0, TotalParts: 1, Hashes: dataHashes}
	if _, _, _, err := recv.HandleFrame(cid, hashFrame); err != nil {
		t.Fatal(err)
	}
	// Re-deliver the same group; it must be accepted as a no-op.
	if _, _, _, err := recv.HandleFrame(cid, hashFrame); err != nil {
		t.Fatal(err)
	}

	for i, v := range []leaf.Data{mustLeaf(t, []byte{'a'}), mustLeaf(t, []byte{'b'})} {
		f := Frame{CastID: 1, IsHash: false, PartNo: uint16(i), TotalParts: 2, Data: v}
		if _, _, _, err := recv.HandleFrame(cid, f); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ad.Peek(cid)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsLink() {
		t.Fatal("expected promotion to have completed")
	}
}

func TestReceiverAbortsOnHashMismatch(t *testing.T) {
	ad := appdata.New()
	link := content.Link{
		Transform: content.NewTransformInfo(9, nil, 1, 0xdeadbeef, 1, ""),
	}
	cid, err := ad.Append(content.NewLink(link))
	if err != nil {
		t.Fatal(err)
	}
	recv := NewReceiver(ad)

	bogusHashes := []uint64{1}
	f := Frame{CastID: 1, IsHash: true, PartNo: 0, TotalParts: 1, Hashes: bogusHashes}
	if _, _, _, err := recv.HandleFrame(cid, f); err == nil {
		t.Fatal("expected a hash mismatch error")
	}

	got, err := ad.Peek(cid)
	if err != nil {
		t.Fatal(err)
	}
	gotLink, ok := got.AsLink()
	if !ok {
		t.Fatal("expected the Content to still be a Link after an aborted promotion")
	}
	if gotLink.Transform != nil {
		t.Fatal("expected the aborted Link to carry no TransformInfo")
	}
}

func TestBroadcastRejectsLinkContent(t *testing.T) {
	orig := NewOriginator(fastConfig())
	link := content.NewLink(content.Link{})
	err := orig.Broadcast(context.Background(), 0, link, func(ctx context.Context, f Frame) error {
		t.Fatal("send should never be called for a Link")
		return nil
	})
	if err == nil {
		t.Fatal("expected an error broadcasting a Link")
	}
}

func TestBroadcastRespectsContextCancellation(t *testing.T) {
	src := sourceContent(t, 5)
	orig := NewOriginator(Config{StartupDelay: time.Hour, InterFrameDelay: 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := orig.Broadcast(ctx, 0, src, func(ctx context.Context, f Frame) error {
		t.Fatal("send should never be called once the context is already cancelled")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestManagerEnforcesConcurrencyCap(t *testing.T) {
	ad := appdata.New()
	var jobs []Job
	for i := 0; i < 8; i++ {
		c := content.NewData(1)
		if err := c.PushData(mustLeaf(t, []byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
		cid, err := ad.Append(c)
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, Job{CID: cid, CastID: uint8(i)})
	}

	m := NewManager(ad, fastConfig())
	m.sem = make(chan struct{}, 2) // shrink the cap so the test can observe it

	var mu inflightCounter
	err := m.Run(context.Background(), jobs, func(ctx context.Context, f Frame) error {
		mu.enter()
		defer mu.leave()
		if mu.peak() > 2 {
			t.Fatal("exceeded the configured concurrency cap")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// inflightCounter tracks concurrent callers for TestManagerEnforcesConcurrencyCap.
type inflightCounter struct {
	mu      sync.Mutex
	current int
	max     int
}

func (c *inflightCounter) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	if c.current > c.max {
		c.max = c.current
	}
}

func (c *inflightCounter) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (c *inflightCounter) peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}
