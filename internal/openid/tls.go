package openid

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// CAConfig はプロバイダーとの通信で信頼する証明書の設定。
type CAConfig struct {
	// VerifyPeer が真の場合、システムの証明書に加えてCAInfo/CAPathの証明書を信頼する。
	VerifyPeer bool
	// CAInfo はPEM形式のCAバンドルファイル。
	CAInfo string
	// CAPath はPEM形式の証明書ファイルを置いたディレクトリ。
	CAPath string
}

// BuildTLSConfig はCA設定からTLS設定を組み立てる。
// VerifyPeerが偽の場合は既定のTLS設定を使うためnilを返す。証明書検証を無効にすることはない。
func BuildTLSConfig(cfg CAConfig) (*tls.Config, error) {
	if !cfg.VerifyPeer {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if cfg.CAInfo != "" {
		pem, err := os.ReadFile(cfg.CAInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", cfg.CAInfo)
		}
	}

	if cfg.CAPath != "" {
		entries, err := os.ReadDir(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA directory: %w", err)
		}
		added := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(cfg.CAPath, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
			if pool.AppendCertsFromPEM(pem) {
				added++
			}
		}
		if added == 0 {
			return nil, fmt.Errorf("no certificates found in CA directory %s", cfg.CAPath)
		}
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
