package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSimpleKeyfile(t *testing.T) {
	dir := t.TempDir()

	simpleKeyfile := NewSimpleKeyfile(filepath.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(nKey.D, key.D) || nKey.X.Cmp(key.X) != 0 {
		t.Fatalf("Keys do not match")
	}
}

func TestReadOrCreate(t *testing.T) {
	kf := NewSimpleKeyfile(filepath.Join(t.TempDir(), "nested", "priv_key"))

	first, created, err := kf.ReadOrCreate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !created {
		t.Fatalf("first call should create a key")
	}

	second, created, err := kf.ReadOrCreate()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if created {
		t.Fatalf("second call should read the existing key")
	}
	if DeviceID(&first.PublicKey) != DeviceID(&second.PublicKey) {
		t.Fatalf("device IDs differ after reload")
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateECDSAKey()
	rawKey := []byte(PrivateKeyHex(key))

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
	}

	for _, fm := range shouldErr {
		p := filepath.Join(dir, fmt.Sprintf("bad_%o", fm))
		if err := os.WriteFile(p, rawKey, 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, fm); err != nil {
			t.Fatal(err)
		}
		if _, err := NewSimpleKeyfile(p).ReadKey(); err == nil {
			t.Fatalf("%o || key file should return permissions error", fm)
		}
	}

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		p := filepath.Join(dir, fmt.Sprintf("good_%o", fm))
		if err := os.WriteFile(p, rawKey, 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, fm); err != nil {
			t.Fatal(err)
		}
		if _, err := NewSimpleKeyfile(p).ReadKey(); err != nil {
			t.Fatalf("%o || key file should not return error. Got %v", fm, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	msg := []byte("Davenport123 printer_ip 10.0.0.5")

	r, s, err := Sign(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}

	encodedSig := EncodeSignature(r, s)

	dr, ds, err := DecodeSignature(encodedSig)
	if err != nil {
		t.Fatalf("error decoding %v: %v", encodedSig, err)
	}

	if r.Cmp(dr) != 0 || s.Cmp(ds) != 0 {
		t.Fatalf("decoded signature differs")
	}

	if !Verify(&privKey.PublicKey, msg, dr, ds) {
		t.Fatalf("signature should verify")
	}

	if Verify(&privKey.PublicKey, []byte("tampered"), dr, ds) {
		t.Fatalf("signature should not verify other data")
	}

	if _, _, err := DecodeSignature("nope"); err == nil {
		t.Fatalf("malformed signature should not decode")
	}
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	h := PublicKeyHex(&privKey.PublicKey)
	pub, err := PublicKeyFromHex(h)
	if err != nil {
		t.Fatal(err)
	}

	if DeviceID(pub) != DeviceID(&privKey.PublicKey) {
		t.Fatalf("device ID changed after hex round trip")
	}
	if len(DeviceID(pub)) != DeviceIDLen {
		t.Fatalf("unexpected device ID length %d", len(DeviceID(pub)))
	}
}
