package sipvalidator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging/mock"
)

const (
	unzipTopic = "be.meemoo.sipin.bag.unzip"
	bagTopic   = "be.meemoo.sipin.bag.validate"
	sipTopic   = "be.meemoo.sipin.sip.validate"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// makeTestBag writes a minimal valid bag with a single sha256 manifest
func makeTestBag(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	payload := "meemoo\n"
	sum := sha256.Sum256([]byte(payload))

	writeTestFile(t, filepath.Join(dir, "bagit.txt"), "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n")
	writeTestFile(t, filepath.Join(dir, "data", "essence.txt"), payload)
	writeTestFile(t, filepath.Join(dir, "manifest-sha256.txt"), fmt.Sprintf("%s  data/essence.txt\n", hex.EncodeToString(sum[:])))
	return dir
}

// unzipMessage builds an inbound bag unzip event as an upstream service would send it
func unzipMessage(t *testing.T, id string, outcome events.Outcome, correlationID string, data map[string]interface{}) *mock.Message {
	t.Helper()
	codec := events.NewCodec("bag-unzipper")
	e := codec.Build(unzipTopic, outcome, "bag.zip", correlationID, data)
	wire, err := events.Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	return &mock.Message{MessageID: id, Value: wire}
}

type testRig struct {
	dispatcher *Dispatcher
	sub        *mock.Subscriber
	bag        *mock.Publisher
	sip        *mock.Publisher
}

func newTestRig(validator BagValidator, msgs ...*mock.Message) *testRig {
	rig := &testRig{
		sub: mock.NewSubscriber(msgs...),
		bag: &mock.Publisher{TopicName: bagTopic},
		sip: &mock.Publisher{TopicName: sipTopic},
	}
	conns := &Connections{BagProducer: rig.bag, SIPProducer: rig.sip, Subscriber: rig.sub}
	rig.dispatcher = NewDispatcher(conns, events.NewCodec("sip-validator"), validator, AlwaysEligible{}, 0)
	return rig
}
