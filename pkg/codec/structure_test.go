package codec

import "testing"

// TestStructureSetup verifies the basic package structure is correct
func TestStructureSetup(t *testing.T) {
	// Test that we can create a codec
	codec := NewRecordCodec()
	if codec == nil {
		t.Error("NewRecordCodec returned nil")
	}

	// Test that we can create a record
	record := NewRecord([]byte("key"), []byte("value"))
	if record == nil {
		t.Error("NewRecord returned nil")
	}

	// Test basic field assignments
	if record.KeySize != 3 {
		t.Errorf("Expected KeySize 3, got %d", record.KeySize)
	}

	if record.ValueSize != 5 {
		t.Errorf("Expected ValueSize 5, got %d", record.ValueSize)
	}

	// Test size calculation
	expectedSize := 20 + 3 + 5 // header + key + value
	if record.Size() != expectedSize {
		t.Errorf("Expected size %d, got %d", expectedSize, record.Size())
	}
}
