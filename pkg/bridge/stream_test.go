package bridge

import (
	"fmt"
	"testing"

	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

type streamReports struct {
	errs []*errors.PluginError
}

func (r *streamReports) HandleError(err *errors.PluginError) { r.errs = append(r.errs, err) }
func (r *streamReports) HandlePanic(err *errors.PanicError)  {}

func parseCount(data any) (int, error) {
	m := ParseMap(data)
	if m == nil {
		return 0, fmt.Errorf("expected map, got %T", data)
	}
	n, ok := ToInt64(m["count"])
	if !ok {
		return 0, fmt.Errorf("missing count: %v", m)
	}
	return int(n), nil
}

func TestStreamDeliversParsedValues(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	ch := NewEventChannel("test/counts")
	stream := NewStream("test/counts", ch, parseCount)

	var got []int
	unsub := stream.Listen(func(n int) { got = append(got, n) })

	HandleEvent("test/counts", []byte(`{"count": 1}`))
	HandleEvent("test/counts", []byte(`{"count": 2}`))

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}

	unsub()
	HandleEvent("test/counts", []byte(`{"count": 3}`))
	if len(got) != 2 {
		t.Errorf("received event after unsubscribe: %v", got)
	}
}

func TestStreamReportsParseErrors(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	reports := &streamReports{}
	errors.SetHandler(reports)
	t.Cleanup(func() { errors.SetHandler(nil) })

	ch := NewEventChannel("test/badcounts")
	stream := NewStream("test/badcounts", ch, parseCount)

	called := false
	stream.Listen(func(int) { called = true })

	HandleEvent("test/badcounts", []byte(`{"other": true}`))

	if called {
		t.Error("handler called for unparseable event")
	}
	if len(reports.errs) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports.errs))
	}
	if reports.errs[0].Kind != errors.KindParsing {
		t.Errorf("got kind %v, want %v", reports.errs[0].Kind, errors.KindParsing)
	}
	if reports.errs[0].Channel != "test/badcounts" {
		t.Errorf("got channel %q", reports.errs[0].Channel)
	}
}

func TestStreamReportsStreamErrors(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	reports := &streamReports{}
	errors.SetHandler(reports)
	t.Cleanup(func() { errors.SetHandler(nil) })

	ch := NewEventChannel("test/errcounts")
	stream := NewStream("test/errcounts", ch, parseCount)
	stream.Listen(func(int) {})

	HandleEventError("test/errcounts", "sourceLost", "gps gone")

	if len(reports.errs) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports.errs))
	}
	if reports.errs[0].Kind != errors.KindPlatform {
		t.Errorf("got kind %v, want %v", reports.errs[0].Kind, errors.KindPlatform)
	}
}
