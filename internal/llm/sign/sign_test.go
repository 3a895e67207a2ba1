package sign

import "testing"

func TestMD5Hex_ConcatenatesInOrder(t *testing.T) {
	a := MD5Hex("foo", "bar")
	b := MD5Hex("foobar")
	if a != b {
		t.Fatalf("expected concatenation to match single-string hash: %s vs %s", a, b)
	}
}

func TestSortedFormMD5_IsOrderIndependentOnInput(t *testing.T) {
	secret := "s3cr3t"
	a := SortedFormMD5(map[string]string{"b": "2", "a": "1"}, secret)
	b := SortedFormMD5(map[string]string{"a": "1", "b": "2"}, secret)
	if a != b {
		t.Fatalf("expected signature to be independent of map iteration order: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char hex MD5 digest, got %d chars", len(a))
	}
}

func TestSortedFormMD5_ChangesWithFields(t *testing.T) {
	secret := "s3cr3t"
	a := SortedFormMD5(map[string]string{"a": "1"}, secret)
	b := SortedFormMD5(map[string]string{"a": "2"}, secret)
	if a == b {
		t.Fatal("expected different field values to produce different signatures")
	}
}

func TestHMACSHA256Hex_IsDeterministic(t *testing.T) {
	a := HMACSHA256Hex("key", "message")
	b := HMACSHA256Hex("key", "message")
	if a != b {
		t.Fatal("expected deterministic output for identical inputs")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char hex SHA256 digest, got %d chars", len(a))
	}
}

func TestHMACSHA256Hex_DiffersWithKey(t *testing.T) {
	a := HMACSHA256Hex("key1", "message")
	b := HMACSHA256Hex("key2", "message")
	if a == b {
		t.Fatal("expected different keys to produce different MACs")
	}
}

func TestTimestampedHMAC_DiffersAcrossTimestamps(t *testing.T) {
	a := TimestampedHMAC("key", "prefix", 1000)
	b := TimestampedHMAC("key", "prefix", 2000)
	if a == b {
		t.Fatal("expected different timestamps to produce different signatures")
	}
}

func TestTwoLayerHMAC_SameEpochWindowReusesInnerKey(t *testing.T) {
	a := TwoLayerHMAC("secret", "/v1/chat", 42, "body-a")
	b := TwoLayerHMAC("secret", "/v1/chat", 42, "body-b")
	c := TwoLayerHMAC("secret", "/v1/chat", 43, "body-a")

	if a == b {
		t.Fatal("expected different bodies to produce different outer signatures")
	}
	if a == c {
		t.Fatal("expected different epoch windows to produce different signatures")
	}
	inner := HMACSHA256Hex("secret", "/v1/chat:42")
	if a != HMACSHA256Hex(inner, "body-a") || b != HMACSHA256Hex(inner, "body-b") {
		t.Fatal("expected both bodies in the same epoch window to be signed with the same inner key")
	}
}
