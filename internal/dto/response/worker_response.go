package response

type WorkerGroupResponse struct {
	Name          string `json:"name"`
	EnvironmentID string `json:"environmentId"`
}

type ConnectResponse struct {
	WorkerGroup      WorkerGroupResponse `json:"workerGroup"`
	WorkerInstanceID string              `json:"workerInstanceId"`
}
