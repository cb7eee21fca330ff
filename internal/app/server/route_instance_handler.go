package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"deepagg/internal/api/dto"
	"deepagg/internal/jobs/runtime"
)

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	response := dto.InstanceListResponse{Instances: []dto.Instance{}}
	if s.deps.Instances == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}

	instances, err := s.deps.Instances(r.Context())
	if err != nil {
		log.Error("Failed to load active instances", "error", err)
		writeError(w, "Failed to load active instances", http.StatusInternalServerError)
		return
	}

	for _, instance := range instances {
		response.Instances = append(response.Instances, toInstanceDTO(instance, s.deps.LocalInstanceID))
	}
	response.Total = len(response.Instances)
	writeJSON(w, http.StatusOK, response)
}

func toInstanceDTO(instance runtime.ActiveInstance, localID string) dto.Instance {
	return dto.Instance{
		ID:          instance.ID,
		Name:        instance.Name,
		Region:      instance.Region,
		APIPort:     instance.APIPort,
		ForwardPort: instance.ForwardPort,
		Pool: dto.InstancePool{
			Raw:    instance.Pool.Raw,
			Tested: instance.Pool.Tested,
			Best:   instance.Pool.Best,
		},
		LastSeen: instance.LastSeen,
		Local:    instance.ID == localID,
	}
}
