package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path 输入数据位置：本地文件或MongoDB集合
type Path struct {
	File string
	DB   string
	Coll string
}

// NewPath 解析{fspath}或{db}.{col}，空串表示无输入，返回nil
func NewPath(filePathOrColl string) (*Path, error) {
	// 检查filePathOrColl是否作为文件存在
	if _, err := os.Stat(filePathOrColl); err == nil {
		return &Path{
			File: filePathOrColl,
		}, nil
	}
	dbDotColl := strings.TrimSpace(filePathOrColl)
	if dbDotColl == "" {
		return nil, nil
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("neither an existing file nor {db}.{col}: %s", dbDotColl)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

func (p *Path) IsFile() bool {
	return p.File != ""
}

// Ext 文件扩展名（小写），集合为空串
func (p *Path) Ext() string {
	return strings.ToLower(filepath.Ext(p.File))
}

func (p *Path) String() string {
	if p.File != "" {
		return p.File
	}
	return p.DB + "." + p.Coll
}
