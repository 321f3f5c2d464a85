package broadcast

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

func withTempRoot(t *testing.T) {
	t.Helper()
	old := Root
	Root = t.TempDir()
	t.Cleanup(func() { Root = old })
}

func connectSubscriber(t *testing.T, address string, id xbproto.ClientID) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", address)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(idLine(id))); err != nil {
		t.Fatalf("write client id: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func idLine(id xbproto.ClientID) string {
	return strconv.FormatInt(int64(id), 10) + "\n"
}

func readMessage(t *testing.T, r *bufio.Reader) xbproto.Message {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg xbproto.Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal message %q: %v", line, err)
	}
	return msg
}

func TestBroadcaster_UnicastReachesOnlyTarget(t *testing.T) {
	withTempRoot(t)
	b, err := New("/tmp/pA")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Abort()

	_, r7 := connectSubscriber(t, b.Address(), 7)
	_, r8 := connectSubscriber(t, b.Address(), 8)

	// Give the accept goroutines a moment to register.
	time.Sleep(20 * time.Millisecond)

	b.SendTo(8, xbproto.NotifyInfo("[pA] Registered"))

	msg := readMessage(t, r8)
	if msg.Kind != xbproto.KindNotify || msg.Notify.Content != "[pA] Registered" {
		t.Fatalf("unexpected message for id 8: %+v", msg)
	}

	// id 7 received nothing (spec scenario S5): send a unicast only to 7 and
	// confirm it is the first line 7 reads, so the notice for 8 never reached it.
	b.SendTo(7, xbproto.NotifyInfo("only-for-7"))
	msg7 := readMessage(t, r7)
	if msg7.Notify.Content != "only-for-7" {
		t.Fatalf("unexpected message for id 7: %+v", msg7)
	}
}

func TestBroadcaster_FanoutReachesAll(t *testing.T) {
	withTempRoot(t)
	b, err := New("/tmp/pB")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Abort()

	_, r1 := connectSubscriber(t, b.Address(), 1)
	_, r2 := connectSubscriber(t, b.Address(), 2)
	time.Sleep(20 * time.Millisecond)

	b.SendAll(xbproto.NotifyInfo("hello"))

	m1 := readMessage(t, r1)
	m2 := readMessage(t, r2)
	if m1.Notify.Content != "hello" || m2.Notify.Content != "hello" {
		t.Fatalf("expected both subscribers to receive the fan-out message")
	}
}

func TestBroadcaster_AbortRemovesSocket(t *testing.T) {
	withTempRoot(t)
	b, err := New("/tmp/pC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	address := b.Address()
	b.Abort()

	if _, err := os.Stat(address); !os.IsNotExist(err) {
		t.Fatalf("expected socket to be removed after Abort, stat err=%v", err)
	}
}

func TestUniqueName_StripsFirstTwoAncestors(t *testing.T) {
	got := UniqueName("/Users/dev/projects/pA")
	if got != "projects_pA" {
		t.Fatalf("UniqueName(/Users/dev/projects/pA) = %q, want projects_pA", got)
	}
}

func TestUniqueName_ShortRootJoinsWithoutHashing(t *testing.T) {
	got := UniqueName("/tmp/pA")
	if got != "tmp_pA" {
		t.Fatalf("UniqueName(/tmp/pA) = %q, want tmp_pA", got)
	}
}
