package remotetest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
)

// FTPD is a loopback FTP server that speaks just enough of the protocol for
// github.com/jlaffaye/ftp to log in and read a directory. Every directory
// answers LIST with ListLines and NLST with Names, verbatim.
type FTPD struct {
	User     string
	Password string

	ListLines []string
	Names     []string

	ln net.Listener
	wg sync.WaitGroup
}

// StartFTPD listens on 127.0.0.1 and serves until Close.
func StartFTPD(user, password string, listLines, names []string) (*FTPD, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &FTPD{User: user, Password: password, ListLines: listLines, Names: names, ln: ln}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *FTPD) Host() string {
	return "127.0.0.1"
}

func (s *FTPD) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *FTPD) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *FTPD) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *FTPD) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...)
	}

	var data net.Listener
	defer func() {
		if data != nil {
			data.Close()
		}
	}()

	reply("220 remotetest ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
		verb = strings.ToUpper(verb)

		switch verb {
		case "USER":
			if arg != s.User {
				reply("530 unknown user")
				continue
			}
			reply("331 password required")
		case "PASS":
			if arg != s.Password {
				reply("530 login incorrect")
				continue
			}
			reply("230 logged in")
		case "TYPE":
			reply("200 type set")
		case "EPSV":
			if data != nil {
				data.Close()
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "LIST", "NLST":
			lines := s.ListLines
			if verb == "NLST" {
				lines = s.Names
			}
			if data == nil {
				reply("425 use EPSV first")
				continue
			}
			reply("150 opening data connection")
			if err := sendLines(data, lines); err != nil {
				reply("426 transfer aborted")
			} else {
				reply("226 transfer complete")
			}
			data.Close()
			data = nil
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 %s not implemented", verb)
		}
	}
}

func sendLines(ln net.Listener, lines []string) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	w := bufio.NewWriter(conn)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\r\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
