// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 U.S. Geological Survey

package sdi12

// parseCommand classifies the buffered command and prepares the response.
// Called from DoTask with the machine locked, only while the pre-response
// mark is held (or an abort is pending). The first character has already
// passed the address filter and the last is the '!' terminator, so
// classification runs on the payload length alone.
//
// The result is applied in one step: flags, rx_meta, and the send buffer
// all change together, so the transmit path never observes a half-updated
// parse.
func (m *Machine) parseCommand() {
	m.flags &^= FlagRxCmd

	if m.flags&FlagAbort != 0 {
		// Measurement aborted by a break: answer the bare ack and forget
		// the whole transaction.
		m.flags = 0
		m.rxMeta = 0
		m.respondAck(m.rxAddr)
		m.clearRxBuf()
		return
	}

	if m.rxBuf[0] == '?' {
		m.respondQuery()
		m.clearRxBuf()
		return
	}

	m.rxAddr = m.rxBuf[0]

	// Payload length: received characters minus the '!' terminator.
	switch m.rxIdx - 1 {
	case 1: // a! acknowledge active
		m.respondAck(m.rxAddr)

	case 2: // aI! aM! aV! aC!
		switch m.rxBuf[1] {
		case 'I':
			m.respondIdentity(m.rxAddr)
			// An identify in the middle of an M or V sequence cancels it.
			if m.flags&(FlagCmdM|FlagCmdV) != 0 {
				m.flags &^= FlagCmdM | FlagCmdV | FlagCRCReq
			}
			m.rxMeta = 0
		case 'M':
			m.respondMeasure(m.rxAddr)
			m.flags = m.flags&^(FlagCmdC|FlagCmdV|FlagCRCReq) | FlagCmdM | FlagProcCmd
			m.rxMeta = 0
		case 'V':
			m.respondVerify(m.rxAddr)
			m.flags = m.flags&^(FlagCmdM|FlagCRCReq) | FlagCmdV | FlagProcCmd
			m.rxMeta = 0
		case 'C':
			m.respondConcurrent(m.rxAddr)
			m.flags = m.flags&^(FlagCmdM|FlagCmdV|FlagCRCReq) | FlagCmdC | FlagProcCmd
			m.rxMeta = 0
		default:
			m.procErr()
		}

	case 3: // aAb! aMC! aMn! aCC! aCn! aDn! aRn!
		switch m.rxBuf[1] {
		case 'A':
			// Address change is not honored on a wireless bridge: the
			// address space is pinned by the node DIP switches. Ack only.
			m.respondAck(m.rxAddr)
			m.rxMeta = 0
		case 'M':
			switch {
			case m.rxBuf[2] == 'C':
				m.respondMeasure(m.rxAddr)
				m.flags = FlagCRCReq | FlagCmdM | FlagProcCmd
				m.rxMeta = 0
			case m.rxBuf[2] >= '1' && m.rxBuf[2] <= '9':
				m.respondMeasure(m.rxAddr)
				m.flags = FlagCmdM | FlagProcCmd
				m.rxMeta = m.rxBuf[2] - '0'
			default:
				m.procErr()
			}
		case 'C':
			switch {
			case m.rxBuf[2] == 'C':
				m.respondMeasure(m.rxAddr)
				m.flags = FlagCRCReq | FlagCmdC | FlagProcCmd
				m.rxMeta = 0
			case m.rxBuf[2] >= '1' && m.rxBuf[2] <= '9':
				m.respondConcurrent(m.rxAddr)
				m.flags = FlagCmdC | FlagProcCmd
				m.rxMeta = m.rxBuf[2] - '0'
			default:
				m.procErr()
			}
		case 'D':
			// Only valid with a measurement outstanding and a matching
			// sequence number.
			n := m.rxBuf[2] - '0'
			if m.flags&flagCmdAny != 0 && n <= 9 && n == m.rxMeta&metaNMask {
				m.flags |= FlagProcCmd
				m.rxMeta |= MetaRxD
				m.respondData(m.rxAddr)
			} else {
				m.procErr()
			}
		case 'R':
			// Continuous measurements are recognized but not served.
			m.procErr()
		default:
			m.procErr()
		}

	case 4: // aMCn! aCCn! aRCn!
		if m.rxBuf[2] != 'C' {
			m.procErr()
			break
		}
		n := m.rxBuf[3]
		switch m.rxBuf[1] {
		case 'M':
			if n >= '1' && n <= '9' {
				m.respondMeasure(m.rxAddr)
				m.flags = FlagCRCReq | FlagCmdM | FlagProcCmd
				m.rxMeta = n - '0'
			} else {
				m.procErr()
			}
		case 'C':
			if n >= '1' && n <= '9' {
				m.respondConcurrent(m.rxAddr)
				m.flags = FlagCRCReq | FlagCmdC | FlagProcCmd
				m.rxMeta = n - '0'
			} else {
				m.procErr()
			}
		default:
			m.procErr()
		}

	default: // 5 or more characters: extended commands, unimplemented
		m.procErr()
	}

	m.clearRxBuf()
}

// procErr records a malformed or unsupported command. SDI-12 specifies
// silence: no response is prepared and the transmission window ends back at
// idle.
func (m *Machine) procErr() {
	m.flags = m.flags&^FlagProcCmd | FlagProcErr
	m.rxMeta = 0
	m.respReady = false
	m.sendBuf = nil
}

// respondAck prepares the bare a<CR><LF> acknowledgment.
func (m *Machine) respondAck(a byte) {
	m.txBuf[0] = a
	m.txBuf[1] = '\r'
	m.txBuf[2] = '\n'
	m.setResponse(m.txBuf[:3])
	m.flags |= FlagProcCmd
}

// respondQuery answers ?! with the next configured address, round robin, so
// repeated queries reveal the full address set.
func (m *Machine) respondQuery() {
	addrs := m.addrs()
	if len(addrs) == 0 {
		m.procErr()
		return
	}
	if m.queryCur >= len(addrs) {
		m.queryCur = 0
	}
	a := ASCIIAddr(addrs[m.queryCur])
	if a == 0 {
		m.procErr()
		return
	}
	m.queryCur++
	if m.queryCur >= len(addrs) {
		m.queryCur = 0
	}
	m.txBuf[0] = a
	m.txBuf[1] = '\r'
	m.txBuf[2] = '\n'
	m.setResponse(m.txBuf[:3])
	m.flags |= FlagProcCmd
}

// respondIdentity prepares the aI! response: address, identity block, four
// filler zeros reserved for the node address extension.
func (m *Machine) respondIdentity(a byte) {
	n := 0
	m.txBuf[n] = a
	n++
	n += copy(m.txBuf[n:], identInfo)
	n += copy(m.txBuf[n:], "0000")
	m.txBuf[n] = '\r'
	m.txBuf[n+1] = '\n'
	m.setResponse(m.txBuf[:n+2])
	m.flags |= FlagProcCmd
}

// respondMeasure prepares atttn for the M command family: data in
// MeasureWait seconds, two values (one per probe). It also raises the data
// request toward the wireless side.
func (m *Machine) respondMeasure(a byte) {
	m.txBuf[0] = a
	m.txBuf[1] = '0'
	m.txBuf[2] = '0'
	m.txBuf[3] = '0' + MeasureWait
	m.txBuf[4] = '2'
	m.txBuf[5] = '\r'
	m.txBuf[6] = '\n'
	m.setResponse(m.txBuf[:7])
	m.msgSignal = m.numAddr
}

// respondVerify prepares atttn for aV!: four verification values after
// MeasureWait seconds.
func (m *Machine) respondVerify(a byte) {
	m.txBuf[0] = a
	m.txBuf[1] = '0'
	m.txBuf[2] = '0'
	m.txBuf[3] = '0' + MeasureWait
	m.txBuf[4] = '4'
	m.txBuf[5] = '\r'
	m.txBuf[6] = '\n'
	m.setResponse(m.txBuf[:7])
}

// respondConcurrent prepares atttnn for the C command family. Concurrent
// measurements return no values of their own here; the data arrives through
// the shared wireless path.
func (m *Machine) respondConcurrent(a byte) {
	m.txBuf[0] = a
	m.txBuf[1] = '0'
	m.txBuf[2] = '0'
	m.txBuf[3] = '0'
	m.txBuf[4] = '0'
	m.txBuf[5] = '0'
	m.txBuf[6] = '\r'
	m.txBuf[7] = '\n'
	m.setResponse(m.txBuf[:8])
}

// respondData composes the aDn! response. With no wireless message the
// answer is the four-zero "no data" form; otherwise the prepared buffer is
// finished in place: placeholder replaced by the address, CRC characters
// inserted when requested, CR/LF appended into the zero slack.
func (m *Machine) respondData(a byte) {
	m.msgSignal = MsgSignalNone

	if m.dataPtr == nil {
		m.txBuf[0] = a
		m.txBuf[1] = '0'
		m.txBuf[2] = '0'
		m.txBuf[3] = '0'
		m.txBuf[4] = '0'
		m.txBuf[5] = '\r'
		m.txBuf[6] = '\n'
		m.setResponse(m.txBuf[:7])
		return
	}

	buf := m.dataPtr
	buf[0] = a
	end := 1
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if m.flags&FlagCRCReq != 0 && end+5 <= len(buf) {
		chars := EncodeCRC(CalculateCRC(buf[:end]))
		buf[end] = chars[0]
		buf[end+1] = chars[1]
		buf[end+2] = chars[2]
		end += 3
	}
	if end+2 <= len(buf) {
		buf[end] = '\r'
		buf[end+1] = '\n'
		end += 2
	}
	m.setResponse(buf[:end])
}

func (m *Machine) setResponse(buf []byte) {
	m.sendBuf = buf
	m.sendPos = 0
	m.respReady = true
}
