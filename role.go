// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"fmt"
	"strings"
)

// RoleType identifies the kind of server a session peer plays in the
// cluster.
type RoleType int8

const (
	RoleInvalid RoleType = -1
	RoleGate    RoleType = 1
	RoleLogin   RoleType = 2
	RoleGame    RoleType = 3
	RoleScene   RoleType = 4
	RoleWarzone RoleType = 5
	RolePlayer  RoleType = 6
	RoleGM      RoleType = 7
)

var roleNames = map[RoleType]string{
	RoleInvalid: "invalid",
	RoleGate:    "gate",
	RoleLogin:   "login",
	RoleGame:    "game",
	RoleScene:   "scene",
	RoleWarzone: "warzone",
	RolePlayer:  "player",
	RoleGM:      "gm",
}

func (r RoleType) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("role %d", int8(r))
}

// ParseRole returns the role with the given name, ignoring case.
func ParseRole(s string) (RoleType, error) {
	for r, name := range roleNames {
		if r != RoleInvalid && strings.EqualFold(s, name) {
			return r, nil
		}
	}
	return RoleInvalid, fmt.Errorf("unknown role %q", s)
}

// Info describes the endpoints of a session.
type Info struct {
	Local  string   // the identity of the local server
	Remote string   // the identity of the remote server
	Role   RoleType // the role of the remote server
}
