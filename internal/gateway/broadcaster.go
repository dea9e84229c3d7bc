package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"cryptopulse/internal/feed"
	"cryptopulse/internal/model"
)

// barEnvelope builds a BAR envelope by hand; it is the hot path.
//
//	{"type":"BAR","pair":"BTCUSDT@1h","seq":7,"ts":"...","bar":{"time":...}}
func barEnvelope(pair model.Pair, seq int64, now time.Time, bar model.Bar) []byte {
	buf := make([]byte, 0, 224)
	buf = append(buf, `{"type":"BAR","pair":"`...)
	buf = append(buf, pair.Key()...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","bar":{"time":`...)
	buf = strconv.AppendInt(buf, bar.Time, 10)
	buf = appendField(buf, "open", bar.Open)
	buf = appendField(buf, "high", bar.High)
	buf = appendField(buf, "low", bar.Low)
	buf = appendField(buf, "close", bar.Close)
	buf = appendField(buf, "volume", bar.Volume)
	buf = append(buf, "}}"...)
	return buf
}

func appendField(buf []byte, name string, v float64) []byte {
	buf = append(buf, `,"`...)
	buf = append(buf, name...)
	buf = append(buf, `":`...)
	return strconv.AppendFloat(buf, v, 'f', -1, 64)
}

func snapshotEnvelope(pair model.Pair, seq int64, bars []model.Bar) []byte {
	if bars == nil {
		bars = []model.Bar{}
	}
	out, _ := json.Marshal(SnapshotMsg{Type: TypeSnapshot, Pair: pair.Key(), Seq: seq, Bars: bars})
	return out
}

func stateEnvelope(st feed.Status) []byte {
	out, _ := json.Marshal(StateMsg{Type: TypeState, Status: st})
	return out
}

func settingsEnvelope(s model.Settings) []byte {
	out, _ := json.Marshal(SettingsMsg{Type: TypeSettings, Settings: s})
	return out
}

func replyEnvelope(typ, reqID, pair, errMsg string) []byte {
	out, _ := json.Marshal(ReplyMsg{Type: typ, ReqID: reqID, Pair: pair, Error: errMsg})
	return out
}

func pongEnvelope(ping int64, now time.Time) []byte {
	out, _ := json.Marshal(map[string]interface{}{
		"type":      TypePong,
		"ping":      ping,
		"server_ts": now.UnixMilli(),
	})
	return out
}
