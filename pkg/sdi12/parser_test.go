// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package sdi12

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// ============================================================
// Command Classification Tests
// ============================================================

func TestParser_MeasureVariants(t *testing.T) {
	tests := []struct {
		cmd     string
		want    string
		crc     bool
		n       uint8
		signals bool
	}{
		{"0M!", "00012\r\n", false, 0, true},
		{"0M3!", "00012\r\n", false, 3, true},
		{"0MC!", "00012\r\n", true, 0, true},
		{"0MC5!", "00012\r\n", true, 5, true},
		// CC raises the signal during the response window, but the machine
		// returns to idle when the ack completes, lowering it again.
		{"0CC!", "00012\r\n", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			h := newHarness(0)
			got := h.transact(t, tt.cmd)
			if string(got) != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
			h.m.mu.Lock()
			if gotCRC := h.m.flags&FlagCRCReq != 0; gotCRC != tt.crc {
				t.Errorf("CRCReq = %v, want %v", gotCRC, tt.crc)
			}
			if n := h.m.rxMeta & metaNMask; n != tt.n {
				t.Errorf("stored n = %d, want %d", n, tt.n)
			}
			sig := h.m.msgSignal
			h.m.mu.Unlock()
			if tt.signals && sig != 0 {
				t.Errorf("msg_signal = %d, want raised for address 0", sig)
			}
		})
	}
}

func TestParser_ConcurrentAndVerify(t *testing.T) {
	h := newHarness(0)
	if got := h.transact(t, "0C!"); !bytes.Equal(got, []byte("000000\r\n")) {
		t.Errorf("C response = %q", got)
	}
	if got := h.transact(t, "0C4!"); !bytes.Equal(got, []byte("000000\r\n")) {
		t.Errorf("C4 response = %q", got)
	}
	if got := h.transact(t, "0V!"); !bytes.Equal(got, []byte("00014\r\n")) {
		t.Errorf("V response = %q", got)
	}
}

func TestParser_AddressChangeAcksWithoutChanging(t *testing.T) {
	h := newHarness(0)
	if got := h.transact(t, "0A5!"); !bytes.Equal(got, []byte("0\r\n")) {
		t.Errorf("A response = %q", got)
	}
	// Still answering the DIP-assigned address, not the requested one.
	if got := h.transact(t, "0!"); !bytes.Equal(got, []byte("0\r\n")) {
		t.Errorf("ack after A = %q", got)
	}
}

func TestParser_DSequenceNumberMustMatch(t *testing.T) {
	h := newHarness(0)
	h.transact(t, "0M3!")
	// Clear the SRQ wait so a D command can arrive.
	for i := 0; i < 10*MeasureWait; i++ {
		h.m.OnDeadline()
	}

	// Wrong n: silence.
	h.sendBreak(15 * time.Millisecond)
	h.completeMark()
	h.sendCommand("0D0!")
	h.m.DoTask()
	h.line.sent = nil
	h.m.OnDeadline()
	if len(h.line.sent) != 0 {
		t.Errorf("mismatched D sequence should be silent, sent %q", h.line.sent)
	}
}

func TestParser_DWithoutMeasurementSilent(t *testing.T) {
	h := newHarness(0)
	h.sendBreak(15 * time.Millisecond)
	h.completeMark()
	h.sendCommand("0D0!")
	h.m.DoTask()
	h.line.sent = nil
	h.m.OnDeadline()
	if len(h.line.sent) != 0 {
		t.Errorf("D without measurement should be silent, sent %q", h.line.sent)
	}
}

func TestParser_IdentityCancelsMeasurement(t *testing.T) {
	h := newHarness(0)
	h.transact(t, "0M!")
	for i := 0; i < 10*MeasureWait; i++ {
		h.m.OnDeadline()
	}
	h.transact(t, "0I!")
	h.m.mu.Lock()
	flags := h.m.flags
	h.m.mu.Unlock()
	if flags&FlagCmdM != 0 {
		t.Error("identify should cancel the outstanding M")
	}
}

func TestParser_MalformedModifiers(t *testing.T) {
	// All of these must be silent: wrong modifier characters.
	cmds := []string{"0M0!", "0MA!", "0C0!", "0MC0!", "0MD1!", "0CCA!"}
	for _, cmd := range cmds {
		t.Run(cmd, func(t *testing.T) {
			h := newHarness(0)
			h.sendBreak(15 * time.Millisecond)
			h.completeMark()
			h.sendCommand(cmd)
			h.m.DoTask()
			h.line.sent = nil
			h.m.OnDeadline()
			if len(h.line.sent) != 0 {
				t.Errorf("%s should be silent, sent %q", cmd, h.line.sent)
			}
		})
	}
}

func TestParser_QuerySingleAddress(t *testing.T) {
	h := newHarness(5)
	for i := 0; i < 3; i++ {
		if got := h.transact(t, "?!"); !bytes.Equal(got, []byte("5\r\n")) {
			t.Errorf("query %d = %q", i, got)
		}
	}
}

// ============================================================
// Event Fuzz Tests
// ============================================================

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS, default 500
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 500
}

// getFuzzSeed returns the seed from FUZZ_SEED, or the current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// TestFuzzMachine_RandomEvents fires random event sequences at the machine
// and verifies it never panics and always lands in a defined state.
func TestFuzzMachine_RandomEvents(t *testing.T) {
	rounds := getFuzzRounds()
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < rounds; i++ {
		h := newHarness(0, 3, 7)
		steps := rng.Intn(200) + 1
		for j := 0; j < steps; j++ {
			switch rng.Intn(6) {
			case 0:
				h.clock.elapsed = time.Duration(rng.Intn(250)) * time.Millisecond
				h.m.OnEdge(rng.Intn(2) == 0)
			case 1:
				var errs CharError
				if rng.Intn(8) == 0 {
					errs = CharError(1 << rng.Intn(3))
				}
				h.m.OnChar(byte(rng.Intn(128)), errs)
			case 2:
				h.m.OnTxDone()
			case 3:
				h.clock.elapsed = h.clock.armed
				h.m.OnDeadline()
			case 4:
				h.m.DoTask()
			case 5:
				h.m.ProvideData(append([]byte("d+1+2"), make([]byte, 6)...))
			}
			if h.m.State().String() == "UNKNOWN" {
				t.Fatalf("round %d step %d: undefined state", i, j)
			}
		}
	}
}

// TestFuzzMachine_RandomCommands runs complete random commands through the
// full transaction path; whatever was sent must be CR/LF terminated.
func TestFuzzMachine_RandomCommands(t *testing.T) {
	rounds := getFuzzRounds()
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	rng := rand.New(rand.NewSource(seed))

	letters := []byte("MCVDIRXAZ0123456789C!")
	for i := 0; i < rounds; i++ {
		h := newHarness(0)
		cmd := []byte{'0'}
		n := rng.Intn(6)
		for j := 0; j < n; j++ {
			cmd = append(cmd, letters[rng.Intn(len(letters))])
		}
		cmd = append(cmd, '!')

		h.sendBreak(15 * time.Millisecond)
		h.completeMark()
		h.sendCommand(string(cmd))
		if h.m.State() == StatIdle {
			continue
		}
		if h.m.State() != StatSndMrk {
			// '!' inside the body terminates early; that is still SndMrk
			// or a reject, nothing else.
			t.Fatalf("round %d: command %q left state %v", i, cmd, h.m.State())
		}
		h.m.DoTask()
		h.line.sent = nil
		h.m.OnDeadline()
		for k := 0; h.m.State() == StatSndResp && k < txBufSize+8; k++ {
			h.m.OnTxDone()
		}
		if sent := h.line.sent; len(sent) > 0 && !bytes.HasSuffix(sent, []byte("\r\n")) {
			t.Errorf("round %d: command %q response %q not CRLF terminated", i, cmd, sent)
		}
	}
}
