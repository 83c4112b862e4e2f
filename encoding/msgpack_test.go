package encoding

import (
	"sync"
	"testing"
)

type posRecord struct {
	DomainID uint32 `msgpack:"d"`
	ServerID uint32 `msgpack:"s"`
	SeqNo    uint64 `msgpack:"q"`
	SubID    uint64 `msgpack:"u"`
	Table    string `msgpack:"t"`
}

func TestMarshalUnmarshalStruct(t *testing.T) {
	original := posRecord{
		DomainID: 3,
		ServerID: 44,
		SeqNo:    18446744073709551615,
		SubID:    12,
		Table:    "gtid_slave_pos",
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded posRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalLooseInterface(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"table": "gtid_slave_pos"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v, ok := decoded["table"].(string); !ok || v != "gtid_slave_pos" {
		t.Errorf("decoded[table] = %v (%T), want string", decoded["table"], decoded["table"])
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	var decoded posRecord
	if err := Unmarshal([]byte{0xc1, 0x00}, &decoded); err == nil {
		t.Error("expected error decoding invalid msgpack")
	}
}

func TestMarshalConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rec := posRecord{DomainID: uint32(id), SubID: uint64(j)}
				data, err := Marshal(rec)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var decoded posRecord
				if err := Unmarshal(data, &decoded); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
