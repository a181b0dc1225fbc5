package zteradb

import (
	"github.com/zteradb/zteradb-go/internal/session"
)

func (s *Stream) Session() *session.Session {
	return s.sess
}
