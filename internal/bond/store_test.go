package bond

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/basestation/internal/central"
)

var _ central.BondStore = (*Store)(nil)
var _ central.StorageEventHandler = (*Store)(nil)

func sampleRecord(addr string) Record {
	return Record{
		Address: addr,
		Name:    "clock",
		KeySize: 16,
		MITM:    true,
		LTK:     []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		Created: time.Unix(1700000000, 42),
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "bonds.db"), nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	wl, err := s.Whitelist()
	if err != nil {
		t.Fatalf("Whitelist() error = %v", err)
	}
	if len(wl) != 0 {
		t.Errorf("Whitelist() = %v, want empty", wl)
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, secret := range [][]byte{nil, []byte("station secret")} {
		t.Run(fmt.Sprintf("sealed=%v", secret != nil), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "bonds.db")

			var notified []error
			s, err := Open(path, secret, nil)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			s.notify = func(err error) { notified = append(notified, err) }

			s.Save(sampleRecord("aa:bb:cc:dd:ee:ff"))
			s.Wait()

			if len(notified) != 1 || notified[0] != nil {
				t.Fatalf("notify calls = %v, want one nil", notified)
			}
			if n, _ := s.Pending(); n != 0 {
				t.Errorf("Pending() = %d after Wait, want 0", n)
			}

			reopened, err := Open(path, secret, nil)
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			got, ok := reopened.Lookup("AA:BB:CC:DD:EE:FF")
			if !ok {
				t.Fatal("Lookup() after reopen found nothing")
			}
			want := sampleRecord("aa:bb:cc:dd:ee:ff")
			if got.Name != want.Name || got.KeySize != want.KeySize || !got.MITM ||
				!bytes.Equal(got.LTK, want.LTK) || !got.Created.Equal(want.Created) {
				t.Errorf("reloaded record = %+v, want %+v", got, want)
			}
		})
	}
}

func TestSealedFileNeedsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.db")
	s, err := Open(path, []byte("right"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Save(sampleRecord("AA:BB:CC:DD:EE:FF"))
	s.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(data, []byte("AA:BB:CC:DD:EE:FF")) {
		t.Error("sealed file contains the plaintext address")
	}

	if _, err := Open(path, nil, nil); !errors.Is(err, ErrLocked) {
		t.Errorf("Open() without secret error = %v, want ErrLocked", err)
	}
	if _, err := Open(path, []byte("wrong"), nil); err == nil {
		t.Error("Open() with wrong secret should fail")
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.db")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil, nil); err == nil {
		t.Error("Open() of a non-bond file should fail")
	}
}

func TestWhitelistSortedAndCapped(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "bonds.db"), nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 10; i > 0; i-- {
		s.Save(Record{Address: fmt.Sprintf("00:00:00:00:00:%02X", i), KeySize: 16})
	}
	s.Wait()

	wl, err := s.Whitelist()
	if err != nil {
		t.Fatalf("Whitelist() error = %v", err)
	}
	if len(wl) != MaxWhitelist {
		t.Fatalf("Whitelist() length = %d, want %d", len(wl), MaxWhitelist)
	}
	for i := 1; i < len(wl); i++ {
		if wl[i-1] >= wl[i] {
			t.Errorf("Whitelist() not sorted: %v", wl)
			break
		}
	}
	if wl[0] != central.Address("00:00:00:00:00:01") {
		t.Errorf("Whitelist()[0] = %s, want 00:00:00:00:00:01", wl[0])
	}
}

func TestDeleteAndErase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.db")
	s, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Save(sampleRecord("AA:BB:CC:DD:EE:01"))
	s.Save(sampleRecord("AA:BB:CC:DD:EE:02"))

	if !s.Delete("aa:bb:cc:dd:ee:01") {
		t.Error("Delete() of a bonded address = false")
	}
	if s.Delete("AA:BB:CC:DD:EE:99") {
		t.Error("Delete() of an unknown address = true")
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("List() length = %d, want 1", got)
	}

	s.Erase()
	s.Wait()

	reopened, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got := len(reopened.List()); got != 0 {
		t.Errorf("List() after erase = %d records, want 0", got)
	}
}

func TestFlushFailureNotifies(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bonds")

	errs := make(chan error, 1)
	s, err := Open(filepath.Join(dir, "bonds.db"), nil, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// A file where the bond directory should be makes every flush fail.
	if err := os.WriteFile(dir, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s.Save(sampleRecord("AA:BB:CC:DD:EE:FF"))
	s.Wait()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("notify error = nil, want the write failure")
		}
	default:
		t.Fatal("notify not called after a failed flush")
	}
	if n, _ := s.Pending(); n != 0 {
		t.Errorf("Pending() = %d after a failed flush, want 0", n)
	}
	if _, ok := s.Lookup("AA:BB:CC:DD:EE:FF"); !ok {
		t.Error("Lookup() after a failed flush = false, want the record kept in memory")
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	body := marshalRecords([]Record{sampleRecord("AA:BB:CC:DD:EE:FF")})
	// field 15, varint 1
	body = append(body, 0x78, 0x01)

	records, err := unmarshalRecords(body)
	if err != nil {
		t.Fatalf("unmarshalRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("records = %+v", records)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	body := marshalRecords([]Record{sampleRecord("AA:BB:CC:DD:EE:FF")})
	if _, err := unmarshalRecords(body[:len(body)-3]); err == nil {
		t.Error("unmarshalRecords() of truncated data should fail")
	}
}
