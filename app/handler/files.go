package handler

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ytbatch/app/logger"

	"github.com/gin-gonic/gin"
)

// FilesHandler 下载产物浏览处理器
type FilesHandler struct {
	downloadDir string
	log         *logger.Logger
}

// NewFilesHandler 创建下载产物处理器
func NewFilesHandler(downloadDir string, log *logger.Logger) *FilesHandler {
	return &FilesHandler{downloadDir: downloadDir, log: log}
}

// 创建成功响应
func (h *FilesHandler) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func (h *FilesHandler) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// FileEntry 单个下载产物
type FileEntry struct {
	Folder   string `json:"folder"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

// ListFiles 遍历下载目录，按修改时间倒序返回产物列表
func (h *FilesHandler) ListFiles(c *gin.Context) {
	entries := make([]FileEntry, 0)

	if _, err := os.Stat(h.downloadDir); err == nil {
		err := filepath.WalkDir(h.downloadDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return err
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}

			rel, err := filepath.Rel(h.downloadDir, path)
			if err != nil {
				return nil
			}

			entries = append(entries, FileEntry{
				Folder:   filepath.Base(filepath.Dir(path)),
				Name:     d.Name(),
				Path:     "/download/" + filepath.ToSlash(rel),
				Size:     info.Size(),
				Modified: info.ModTime().Unix(),
			})
			return nil
		})
		if err != nil {
			h.log.Errorf("遍历下载目录失败: %v", err)
			h.error(c, http.StatusInternalServerError, 500, "获取文件列表失败")
			return
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified > entries[j].Modified
	})

	h.success(c, entries, "获取文件列表成功")
}

// DownloadFile 下载单个产物文件
func (h *FilesHandler) DownloadFile(c *gin.Context) {
	// filepath.Base 防止路径穿越
	folder := filepath.Base(c.Param("folder"))
	file := filepath.Base(c.Param("file"))

	path := filepath.Join(h.downloadDir, folder, file)
	if _, err := os.Stat(path); err != nil {
		h.error(c, http.StatusNotFound, 404, "文件不存在")
		return
	}

	c.FileAttachment(path, file)
}

// DownloadAll 把整个下载目录打包成zip流式返回，不在内存中缓存
func (h *FilesHandler) DownloadAll(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "application/zip")
	c.Writer.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename=ytbatch_archive_%d.zip`, time.Now().Unix()))

	zw := zip.NewWriter(c.Writer)
	defer zw.Close()

	err := filepath.WalkDir(h.downloadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return err
		}

		rel, err := filepath.Rel(h.downloadDir, path)
		if err != nil {
			return nil
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		h.log.Errorf("打包下载目录失败: %v", err)
	}
}
