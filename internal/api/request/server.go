package request

type CreateServer struct {
	Name     string `json:"name" validate:"required,max=255"`
	Type     string `json:"type" validate:"required,dbtype"`
	Host     string `json:"host" validate:"required,max=1024"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	User     string `json:"user" validate:"max=255"`
	Password string `json:"password" validate:"max=1024"`
}

type UpdateServer struct {
	Name     *string `json:"name" validate:"omitempty,max=255"`
	Host     *string `json:"host" validate:"omitempty,max=1024"`
	Port     *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	User     *string `json:"user" validate:"omitempty,max=255"`
	Password *string `json:"password" validate:"omitempty,max=1024"`
}
