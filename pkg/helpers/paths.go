// Blood Group Bridge
// Copyright (c) 2026 The Blood Group Bridge Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Blood Group Bridge.
//
// Blood Group Bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Blood Group Bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Blood Group Bridge.  If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	AppName = "bgbridge"
	LogFile = "bgbridge.log"
	// AppEnv overrides the executable location used to find a portable
	// user directory.
	AppEnv  = "BGBRIDGE_APP"
	UserDir = "user"
)

// UserDirPath returns the portable "user" directory next to the executable
// if it exists. When present it replaces every per-user app directory.
func UserDirPath() (string, bool) {
	exe := os.Getenv(AppEnv)
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return "", false
		}
	}

	dir := filepath.Join(filepath.Dir(exe), UserDir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

func ConfigDir() string {
	if v, ok := UserDirPath(); ok {
		return v
	}
	return filepath.Join(xdg.ConfigHome, AppName)
}

// LogDir is where the rotated log file is written.
func LogDir() string {
	if v, ok := UserDirPath(); ok {
		return filepath.Join(v, "logs")
	}
	return filepath.Join(xdg.StateHome, AppName)
}
