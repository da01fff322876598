package zcomm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pborman/uuid"
)

var origin int64

func init() {
	start, err := time.ParseInLocation("2006-01-02 15:04:05", "2021-11-17 11:47:00", time.Local)
	if err != nil {
		panic(err)
	}
	origin = start.UnixNano() / int64(time.Millisecond)
}

// NewMessageID 生成 id：毫秒时间前缀 + 随机 uuid 后半段
func NewMessageID() (id string) {
	now := time.Now().UnixNano()/int64(time.Millisecond) - origin
	_uuid := uuid.NewRandom().Array()
	idPrefix := bytes.NewBuffer([]byte{})
	binary.Write(idPrefix, binary.BigEndian, now)
	var _id [27]byte
	hex.Encode(_id[:], idPrefix.Bytes()[3:])
	_id[10] = '-'
	hex.Encode(_id[11:], _uuid[8:])
	return string(_id[:])
}

// DefaultCallerTag names the running process: "<binary>-<pid>".
func DefaultCallerTag() string {
	return getServerName() + "-" + strconv.Itoa(os.Getpid())
}

func getServerName() string {
	name := filepath.Base(os.Args[0])
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	return name
}
