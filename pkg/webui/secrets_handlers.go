package webui

import (
	"encoding/json"
	"net/http"
	"strings"

	"conductor/pkg/config"
)

// SecretEntry is one listed secret. Values never leave the process.
type SecretEntry struct {
	Name string `json:"name"`
}

// handleSecretsList implements GET /api/secrets.
// Returns secret names only, never values.
func (s *Server) handleSecretsList(w http.ResponseWriter, _ *http.Request) {
	names := config.GetDecryptedSecretNames()

	entries := make([]SecretEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, SecretEntry{Name: name})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleSecretsSet implements POST /api/secrets. Provider keys such as
// ANTHROPIC_API_KEY set here take precedence over the environment.
func (s *Server) handleSecretsSet(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if reqBody.Name == "" {
		http.Error(w, "Secret name is required", http.StatusBadRequest)
		return
	}
	if reqBody.Value == "" {
		http.Error(w, "Secret value is required", http.StatusBadRequest)
		return
	}
	if sanitizeSecretName(reqBody.Name) != reqBody.Name {
		http.Error(w, "Secret name must contain only alphanumeric characters and underscores", http.StatusBadRequest)
		return
	}

	if err := config.SetSecret(reqBody.Name, reqBody.Value); err != nil {
		s.logger.Error("Failed to set secret: %v", err)
		http.Error(w, "Failed to set secret", http.StatusInternalServerError)
		return
	}

	persisted := s.persistSecrets()
	s.logger.Info("Secret %q set (persisted: %t)", reqBody.Name, persisted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"name":      reqBody.Name,
		"persisted": persisted,
	})
}

// handleSecretsDelete implements DELETE /api/secrets/{name}.
func (s *Server) handleSecretsDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "Secret name required", http.StatusBadRequest)
		return
	}

	if err := config.DeleteSecret(name); err != nil {
		s.logger.Error("Failed to delete secret: %v", err)
		http.Error(w, "Failed to delete secret", http.StatusInternalServerError)
		return
	}

	persisted := s.persistSecrets()
	s.logger.Info("Secret %q deleted (persisted: %t)", name, persisted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"name":      name,
		"persisted": persisted,
	})
}

// persistSecrets writes the in-memory secrets to the encrypted file. The
// secret stays in memory when there is no password or directory.
func (s *Server) persistSecrets() bool {
	password := config.GetProjectPassword()
	if password == "" || s.opts.SecretsDir == "" {
		s.logger.Warn("No project password or secrets dir - secret kept in memory only")
		return false
	}
	if err := config.SaveSecretsToFile(s.opts.SecretsDir, password); err != nil {
		s.logger.Error("Failed to persist secrets to file: %v", err)
		return false
	}
	return true
}

// sanitizeSecretName keeps alphanumerics and underscores only.
func sanitizeSecretName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
