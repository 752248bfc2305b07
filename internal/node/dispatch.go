package node

import (
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/meshkv/internal/resp"
	"github.com/dreamware/meshkv/internal/store"
)

func normalizeCommand(cmd string) string {
	return strings.ToUpper(cmd)
}

// dispatch routes a parsed command to its handler and writes exactly one
// reply. It never returns an error itself — every failure path writes a
// RESP error reply instead, ("WireError... respond... keep
// connection open").
func (s *Server) dispatch(w *resp.Writer, args []string) {
	cmd := normalizeCommand(args[0])
	rest := args[1:]

	switch cmd {
	case "PING":
		_ = w.SimpleString("PONG")
	case "SET":
		s.cmdSet(w, rest)
	case "GET":
		s.cmdGet(w, rest)
	case "DEL":
		s.cmdDel(w, rest)
	case "EXISTS":
		s.cmdExists(w, rest)
	case "EXPIRE":
		s.cmdExpire(w, rest)
	case "TTL":
		s.cmdTTL(w, rest)
	case "FLUSH":
		if err := s.eng.Flush(); err != nil {
			writeEngineErr(w, err)
			return
		}
		_ = w.SimpleString("OK")
	case "ZADD":
		s.cmdZAdd(w, rest)
	case "ZREM":
		s.cmdZRem(w, rest)
	case "ZSCORE":
		s.cmdZScore(w, rest)
	case "ZRANK":
		s.cmdZRank(w, rest, false)
	case "ZREVRANK":
		s.cmdZRank(w, rest, true)
	case "ZRANGE":
		s.cmdZRange(w, rest, false)
	case "ZREVRANGE":
		s.cmdZRange(w, rest, true)
	case "ZCARD":
		s.cmdZCard(w, rest)
	case "INFO", "STATS":
		_ = w.BulkString(s.eng.Info())
	case "CLUSTER":
		s.cmdCluster(w, rest)
	default:
		_ = w.Error("ERR unknown command '" + args[0] + "'")
	}
}

func arityErr(w *resp.Writer, cmd string) {
	_ = w.Error("ERR wrong number of arguments for '" + cmd + "' command")
}

func (s *Server) cmdSet(w *resp.Writer, args []string) {
	if len(args) != 2 && len(args) != 4 {
		arityErr(w, "SET")
		return
	}
	key, value := args[0], args[1]
	var ttl time.Duration
	if len(args) == 4 {
		if !strings.EqualFold(args[2], "EX") {
			_ = w.Error("ERR syntax error")
			return
		}
		seconds, err := strconv.Atoi(args[3])
		if err != nil || seconds < 0 {
			_ = w.Error("ERR value is not an integer or out of range")
			return
		}
		ttl = time.Duration(seconds) * time.Second
	}
	if err := s.eng.Set(key, []byte(value), ttl); err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.SimpleString("OK")
}

func (s *Server) cmdGet(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "GET")
		return
	}
	v, err := s.eng.Get(args[0])
	if err == store.ErrNotFound {
		_ = w.NullBulk()
		return
	}
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Bulk(v)
}

func (s *Server) cmdDel(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "DEL")
		return
	}
	ok, err := s.eng.Del(args[0])
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(boolToInt(ok))
}

func (s *Server) cmdExists(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "EXISTS")
		return
	}
	_ = w.Integer(boolToInt(s.eng.Exists(args[0])))
}

func (s *Server) cmdExpire(w *resp.Writer, args []string) {
	if len(args) != 2 {
		arityErr(w, "EXPIRE")
		return
	}
	seconds, err := strconv.Atoi(args[1])
	if err != nil {
		_ = w.Error("ERR value is not an integer or out of range")
		return
	}
	applied, err := s.eng.Expire(args[0], time.Duration(seconds)*time.Second)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(boolToInt(applied))
}

func (s *Server) cmdTTL(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "TTL")
		return
	}
	ttl, hasExpire, ok := s.eng.TTL(args[0])
	if !ok {
		_ = w.Integer(-2)
		return
	}
	if !hasExpire {
		_ = w.Integer(-1)
		return
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++ // round partial seconds up so TTL never reports 0 while still live
	}
	_ = w.Integer(secs)
}

func (s *Server) cmdZAdd(w *resp.Writer, args []string) {
	if len(args) != 3 {
		arityErr(w, "ZADD")
		return
	}
	score, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = w.Error("ERR value is not a valid float")
		return
	}
	added, err := s.eng.ZAdd(args[0], args[2], score)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(boolToInt(added))
}

func (s *Server) cmdZRem(w *resp.Writer, args []string) {
	if len(args) != 2 {
		arityErr(w, "ZREM")
		return
	}
	removed, err := s.eng.ZRem(args[0], args[1])
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(boolToInt(removed))
}

func (s *Server) cmdZScore(w *resp.Writer, args []string) {
	if len(args) != 2 {
		arityErr(w, "ZSCORE")
		return
	}
	score, err := s.eng.ZScore(args[0], args[1])
	if err == store.ErrNotFound {
		_ = w.NullBulk()
		return
	}
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.BulkString(strconv.FormatFloat(score, 'f', -1, 64))
}

func (s *Server) cmdZRank(w *resp.Writer, args []string, reverse bool) {
	name := "ZRANK"
	if reverse {
		name = "ZREVRANK"
	}
	if len(args) != 2 {
		arityErr(w, name)
		return
	}
	var rank int
	var err error
	if reverse {
		rank, err = s.eng.ZRevRank(args[0], args[1])
	} else {
		rank, err = s.eng.ZRank(args[0], args[1])
	}
	if err == store.ErrNotFound {
		_ = w.NullBulk()
		return
	}
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(int64(rank))
}

func (s *Server) cmdZRange(w *resp.Writer, args []string, reverse bool) {
	name := "ZRANGE"
	if reverse {
		name = "ZREVRANGE"
	}
	if len(args) != 3 {
		arityErr(w, name)
		return
	}
	start, err1 := strconv.Atoi(args[1])
	stop, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		_ = w.Error("ERR value is not an integer or out of range")
		return
	}

	var members []store.ZMember
	var err error
	if reverse {
		members, err = s.eng.ZRevRange(args[0], start, stop)
	} else {
		members, err = s.eng.ZRange(args[0], start, stop)
	}
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	items := make([]string, len(members))
	for i, m := range members {
		items[i] = m.Member
	}
	_ = w.BulkArray(items)
}

func (s *Server) cmdZCard(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "ZCARD")
		return
	}
	card, err := s.eng.ZCard(args[0])
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	_ = w.Integer(int64(card))
}

// cmdCluster answers CLUSTER INFO / CLUSTER NODES as bulk strings; meshkv
// has no gossip state to report from a single node's perspective, so these
// describe this node only and defer cluster-wide membership to the proxy
// and health services.
func (s *Server) cmdCluster(w *resp.Writer, args []string) {
	if len(args) != 1 {
		arityErr(w, "CLUSTER")
		return
	}
	switch normalizeCommand(args[0]) {
	case "INFO":
		_ = w.BulkString("cluster_enabled:0\r\nnode_id:" + s.nodeID + "\r\n")
	case "NODES":
		_ = w.BulkString(s.nodeID + " self\r\n")
	default:
		_ = w.Error("ERR unknown CLUSTER subcommand")
	}
}

func writeEngineErr(w *resp.Writer, err error) {
	switch err {
	case store.ErrWrongType:
		_ = w.Error("WRONGTYPE " + err.Error())
	default:
		_ = w.Error("ERR durability failure: " + err.Error())
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
